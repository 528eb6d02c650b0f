// Package grpcserver exposes the admin and operations API over gRPC.
//
// The service is described by a hand-written grpc.ServiceDesc whose methods
// take and return google.protobuf.Struct messages.
package grpcserver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid/v5"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/gamestats/internal/convert"
	"github.com/and161185/gamestats/internal/errs"
	"github.com/and161185/gamestats/internal/model"
	"github.com/and161185/gamestats/internal/service"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "gamestats.admin.v1.Admin"

const (
	defaultAuditLimit = 50
	defaultWindow     = 5
)

// Services are the collaborators the admin API delegates to.
type Services struct {
	Monitor   service.StatsMonitor
	Validator service.StatsValidator
	Streaks   service.StreakService
	Rankings  service.RankingAggregator
	Seasons   service.SeasonService
	Engine    service.AchievementEngine
	Audit     service.AuditLogger
	Events    EventSink
	Guard     PackVerifier
}

// EventSink accepts events for asynchronous derived processing.
type EventSink interface {
	Submit(ctx context.Context, ev model.Event) error
}

// PackVerifier runs the derived phase for a pack operation another service committed.
type PackVerifier interface {
	Verify(ctx context.Context, userID uuid.UUID, events []model.Event, contextID, source string) model.IntegrityReport
}

// Server implements the admin API.
type Server struct {
	svc     Services
	signKey []byte
	log     *zap.Logger
}

// New constructs a Server.
func New(svc Services, signKey []byte, log *zap.Logger) *Server {
	if log == nil {
		log = zap.NewNop()
	}
	return &Server{svc: svc, signKey: signKey, log: log.Named("grpc")}
}

type adminService interface{ isAdminService() }

func (*Server) isAdminService() {}

type handlerFunc func(s *Server, ctx context.Context, in *structpb.Struct) (*structpb.Struct, error)

var methods = []struct {
	name string
	h    handlerFunc
}{
	{"RunMonitoringCycle", (*Server).runMonitoringCycle},
	{"FindInconsistencies", (*Server).findInconsistencies},
	{"FixAllInconsistencies", (*Server).fixAllInconsistencies},
	{"FixUser", (*Server).fixUser},
	{"ResetBrokenStreaks", (*Server).resetBrokenStreaks},
	{"RecomputeRankings", (*Server).recomputeRankings},
	{"GetRanking", (*Server).getRanking},
	{"GetRankingAroundUser", (*Server).getRankingAroundUser},
	{"GetUserPosition", (*Server).getUserPosition},
	{"GetUserAchievements", (*Server).getUserAchievements},
	{"CheckAchievements", (*Server).checkAchievements},
	{"SubmitEvent", (*Server).submitEvent},
	{"VerifyPackOperation", (*Server).verifyPackOperation},
	{"UnlockAchievement", (*Server).unlockAchievement},
	{"CreateSeason", (*Server).createSeason},
	{"FinalizeSeason", (*Server).finalizeSeason},
	{"RecentAudit", (*Server).recentAudit},
}

// ServiceDesc describes the admin service for grpc.Server.RegisterService.
var ServiceDesc = func() grpc.ServiceDesc {
	sd := grpc.ServiceDesc{
		ServiceName: ServiceName,
		HandlerType: (*adminService)(nil),
		Streams:     []grpc.StreamDesc{},
	}
	for _, m := range methods {
		sd.Methods = append(sd.Methods, unaryMethod(m.name, m.h))
	}
	return sd
}()

// MethodNames lists the admin methods in declaration order.
func MethodNames() []string {
	out := make([]string, len(methods))
	for i, m := range methods {
		out[i] = m.name
	}
	return out
}

// FullMethod returns the invoke path of an admin method.
func FullMethod(name string) string { return "/" + ServiceName + "/" + name }

// Register attaches s to gs.
func Register(gs grpc.ServiceRegistrar, s *Server) { gs.RegisterService(&ServiceDesc, s) }

func unaryMethod(name string, h handlerFunc) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, ic grpc.UnaryServerInterceptor) (any, error) {
			in := new(structpb.Struct)
			if err := dec(in); err != nil {
				return nil, err
			}
			s := srv.(*Server)
			call := func(ctx context.Context, req any) (any, error) {
				c, err := s.requireAdmin(ctx)
				if err != nil {
					return nil, err
				}
				out, err := h(s, WithCaller(ctx, c), req.(*structpb.Struct))
				if err != nil {
					return nil, s.toStatus(name, err)
				}
				return out, nil
			}
			if ic == nil {
				return call(ctx, in)
			}
			return ic(ctx, in, &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}, call)
		},
	}
}

func (s *Server) requireAdmin(ctx context.Context) (Caller, error) {
	tok, err := bearerTokenFromMD(ctx)
	if err != nil {
		return Caller{}, status.Error(codes.Unauthenticated, "no auth")
	}
	c, err := callerFromToken(tok, s.signKey)
	if err != nil {
		return Caller{}, status.Error(codes.Unauthenticated, err.Error())
	}
	if !c.Role.IsAdmin() {
		return Caller{}, status.Error(codes.PermissionDenied, "admin role required")
	}
	return c, nil
}

func (s *Server) toStatus(method string, err error) error {
	var code codes.Code
	switch {
	case errors.Is(err, errs.ErrValidation):
		code = codes.InvalidArgument
	case errors.Is(err, errs.ErrNotFound):
		code = codes.NotFound
	case errors.Is(err, errs.ErrAlreadyExists):
		code = codes.AlreadyExists
	case errors.Is(err, errs.ErrConflict):
		code = codes.Aborted
	case errors.Is(err, errs.ErrQueueFull):
		code = codes.ResourceExhausted
	case errors.Is(err, errs.ErrIntegrityDrift):
		code = codes.FailedPrecondition
	case errors.Is(err, errs.ErrUnauthorized):
		code = codes.Unauthenticated
	case errors.Is(err, errs.ErrForbidden):
		code = codes.PermissionDenied
	case errors.Is(err, context.DeadlineExceeded):
		code = codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		code = codes.Canceled
	default:
		s.log.Error("admin call failed", zap.String("method", method), zap.Error(err))
		return status.Error(codes.Internal, "internal")
	}
	return status.Error(code, err.Error())
}

func adminSource(ctx context.Context) string {
	if c, ok := CallerFromCtx(ctx); ok {
		return "admin:" + c.ID.String()
	}
	return "admin"
}

func category(in *structpb.Struct) model.RankingCategory {
	return model.RankingCategory(strings.ToUpper(strings.TrimSpace(convert.String(in, "category"))))
}

// --- integrity ---

func (s *Server) runMonitoringCycle(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	rep, err := s.svc.Monitor.RunMonitoringCycle(ctx)
	if err != nil {
		return nil, err
	}
	return convert.Wrap("report", convert.ToProtoHealthReport(rep)), nil
}

func (s *Server) findInconsistencies(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var (
		found []model.Inconsistency
		err   error
	)
	switch scope := convert.String(in, "scope"); scope {
	case "", "stats":
		found, err = s.svc.Validator.FindInconsistencies(ctx)
	case "xp":
		found, err = s.svc.Validator.FindXPInconsistencies(ctx)
	case "all":
		if found, err = s.svc.Validator.FindInconsistencies(ctx); err == nil {
			var xp []model.Inconsistency
			xp, err = s.svc.Validator.FindXPInconsistencies(ctx)
			found = append(found, xp...)
		}
	default:
		return nil, fmt.Errorf("%w: unknown scope %q", errs.ErrValidation, scope)
	}
	if err != nil {
		return nil, err
	}
	return convert.Wrap("inconsistencies", convert.ToProtoInconsistencies(found)), nil
}

func (s *Server) fixAllInconsistencies(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	sum, err := s.svc.Validator.FixAllInconsistencies(ctx)
	if err != nil {
		return nil, err
	}
	return convert.Wrap("summary", convert.ToProtoFixSummary(sum)), nil
}

func (s *Server) fixUser(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := convert.UUID(in, "user_id")
	if err != nil {
		return nil, err
	}
	var fixed []model.Inconsistency
	switch scope := convert.String(in, "scope"); scope {
	case "", "all":
		fixed, err = s.svc.Validator.FixUserStats(ctx, id, adminSource(ctx))
	case "xp":
		fixed, err = s.svc.Validator.FixUserXP(ctx, id, adminSource(ctx))
	default:
		return nil, fmt.Errorf("%w: unknown scope %q", errs.ErrValidation, scope)
	}
	if err != nil {
		return nil, err
	}
	return convert.Wrap("fixed", convert.ToProtoInconsistencies(fixed)), nil
}

func (s *Server) resetBrokenStreaks(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	n, err := s.svc.Streaks.ResetBrokenStreaks(ctx)
	if err != nil {
		return nil, err
	}
	return convert.Wrap("reset", structpb.NewNumberValue(float64(n))), nil
}

// --- rankings / seasons ---

func (s *Server) recomputeRankings(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	seasonID, err := convert.OptionalUUID(in, "season_id")
	if err != nil {
		return nil, err
	}
	if seasonID == nil {
		err = s.svc.Rankings.RecomputeAll(ctx)
	} else {
		err = s.svc.Rankings.Recompute(ctx, seasonID)
	}
	if err != nil {
		return nil, err
	}
	return &structpb.Struct{Fields: map[string]*structpb.Value{}}, nil
}

func (s *Server) getRanking(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	limit, err := convert.Int(in, "limit", 0)
	if err != nil {
		return nil, err
	}
	seasonID, err := convert.OptionalUUID(in, "season_id")
	if err != nil {
		return nil, err
	}
	rows, err := s.svc.Rankings.GetRanking(ctx, category(in), limit, seasonID)
	if err != nil {
		return nil, err
	}
	return convert.Wrap("rankings", convert.ToProtoRankings(rows)), nil
}

func (s *Server) getRankingAroundUser(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := convert.UUID(in, "user_id")
	if err != nil {
		return nil, err
	}
	window, err := convert.Int(in, "window", defaultWindow)
	if err != nil {
		return nil, err
	}
	seasonID, err := convert.OptionalUUID(in, "season_id")
	if err != nil {
		return nil, err
	}
	rows, err := s.svc.Rankings.GetRankingAroundUser(ctx, id, category(in), window, seasonID)
	if err != nil {
		return nil, err
	}
	return convert.Wrap("rankings", convert.ToProtoRankings(rows)), nil
}

func (s *Server) getUserPosition(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := convert.UUID(in, "user_id")
	if err != nil {
		return nil, err
	}
	seasonID, err := convert.OptionalUUID(in, "season_id")
	if err != nil {
		return nil, err
	}
	r, err := s.svc.Rankings.GetUserPosition(ctx, id, category(in), seasonID)
	if err != nil {
		return nil, err
	}
	return convert.Wrap("ranking", convert.ToProtoRanking(*r)), nil
}

func (s *Server) createSeason(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	def, err := convert.FromProtoSeason(in.GetFields()["season"].GetStructValue())
	if err != nil {
		return nil, err
	}
	season, err := s.svc.Seasons.CreateSeason(ctx, def)
	if err != nil {
		return nil, err
	}
	return convert.Wrap("season", convert.ToProtoSeason(*season)), nil
}

func (s *Server) finalizeSeason(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := convert.UUID(in, "season_id")
	if err != nil {
		return nil, err
	}
	standings, err := s.svc.Seasons.FinalizeSeason(ctx, id)
	if err != nil {
		return nil, err
	}
	return convert.Wrap("standings", convert.ToProtoStandings(standings)), nil
}

// --- achievements / audit ---

func (s *Server) getUserAchievements(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	id, err := convert.UUID(in, "user_id")
	if err != nil {
		return nil, err
	}
	views, err := s.svc.Engine.GetUserAchievements(ctx, id)
	if err != nil {
		return nil, err
	}
	return convert.Wrap("achievements", convert.ToProtoUserAchievements(views)), nil
}

// eventFromRequest parses the "event" field. The event id derives from
// context_id when given so repeated calls dedupe.
func eventFromRequest(in *structpb.Struct) (model.Event, error) {
	ev, err := convert.FromProtoEvent(in.GetFields()["event"].GetStructValue())
	if err != nil {
		return model.Event{}, err
	}
	if ev.ID == uuid.Nil {
		if cid := convert.String(in, "context_id"); cid != "" {
			ev.ID = model.EventIDFor(cid, ev.Type, ev.UserID)
		} else {
			ev.ID = uuid.Must(uuid.NewV4())
		}
	}
	if ev.OccurredAt.IsZero() {
		ev.OccurredAt = time.Now().UTC()
	}
	return ev, nil
}

func (s *Server) checkAchievements(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	ev, err := eventFromRequest(in)
	if err != nil {
		return nil, err
	}
	unlocked, err := s.svc.Engine.CheckAchievements(ctx, ev)
	if err != nil {
		return nil, err
	}
	return convert.Wrap("unlocked", convert.ToProtoIDs(unlocked)), nil
}

// submitEvent queues counters and achievements for ev and returns at once.
func (s *Server) submitEvent(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.svc.Events == nil {
		return nil, fmt.Errorf("%w: event submission disabled", errs.ErrForbidden)
	}
	ev, err := eventFromRequest(in)
	if err != nil {
		return nil, err
	}
	if err := s.svc.Events.Submit(ctx, ev); err != nil {
		return nil, err
	}
	return convert.Wrap("event_id", structpb.NewStringValue(ev.ID.String())), nil
}

// verifyPackOperation applies the events of a committed pack operation and
// checks the users involved. Integrity problems are reported, not returned.
func (s *Server) verifyPackOperation(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	if s.svc.Guard == nil {
		return nil, fmt.Errorf("%w: pack verification disabled", errs.ErrForbidden)
	}
	userID, err := convert.UUID(in, "user_id")
	if err != nil {
		return nil, err
	}
	contextID := convert.String(in, "context_id")
	if contextID == "" {
		return nil, fmt.Errorf("%w: context_id is required", errs.ErrValidation)
	}
	events, err := convert.FromProtoEvents(in, "events")
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	for i := range events {
		if events[i].ID == uuid.Nil {
			events[i].ID = model.EventIDFor(contextID, events[i].Type, events[i].UserID)
		}
		if events[i].OccurredAt.IsZero() {
			events[i].OccurredAt = now
		}
	}
	source := convert.String(in, "source")
	if source == "" {
		source = adminSource(ctx)
	}
	rep := s.svc.Guard.Verify(ctx, userID, events, contextID, source)
	return convert.Wrap("report", convert.ToProtoIntegrityReport(rep)), nil
}

func (s *Server) unlockAchievement(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	userID, err := convert.UUID(in, "user_id")
	if err != nil {
		return nil, err
	}
	achID, err := convert.UUID(in, "achievement_id")
	if err != nil {
		return nil, err
	}
	ok, err := s.svc.Engine.UnlockAchievement(ctx, userID, achID)
	if err != nil {
		return nil, err
	}
	s.log.Info("admin unlock",
		zap.String("source", adminSource(ctx)),
		zap.String("user_id", userID.String()),
		zap.String("achievement_id", achID.String()),
		zap.Bool("unlocked", ok),
	)
	return convert.Wrap("unlocked", structpb.NewBoolValue(ok)), nil
}

func (s *Server) recentAudit(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	userID, err := convert.OptionalUUID(in, "user_id")
	if err != nil {
		return nil, err
	}
	limit, err := convert.Int(in, "limit", defaultAuditLimit)
	if err != nil {
		return nil, err
	}
	entries, err := s.svc.Audit.Recent(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	return convert.Wrap("entries", convert.ToProtoAuditEntries(entries)), nil
}
