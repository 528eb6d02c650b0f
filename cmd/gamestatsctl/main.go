// Command gamestatsctl is the operator CLI for the gamestats admin API.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	u "github.com/gofrs/uuid/v5"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	grpcserver "github.com/and161185/gamestats/internal/server/grpc"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "gamestats")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "gamestats")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tok string, exp time.Time) error {
	_ = os.MkdirAll(cfgDir(), 0o700)
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tokenFile{AccessToken: tok, ExpiresAt: exp})
}

func loadToken() (string, error) {
	if v := os.Getenv("GAMESTATS_TOKEN"); v != "" {
		return v, nil
	}
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (run `gamestatsctl token` first)")
	}
	return tf.AccessToken, nil
}

// ---- grpc dial ----

type bearerCreds struct {
	token  string
	secure bool
}

func (b bearerCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}
func (b bearerCreds) RequireTransportSecurity() bool { return b.secure }

func loadTLS(caPath string, skipVerify bool) (credentials.TransportCredentials, error) {
	if skipVerify {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

type dialOptions struct {
	addr       string
	caPath     string
	skipVerify bool
	plaintext  bool
	token      string
}

func dial(ctx context.Context, o dialOptions) (*grpc.ClientConn, error) {
	creds := insecure.NewCredentials()
	if !o.plaintext {
		var err error
		if creds, err = loadTLS(o.caPath, o.skipVerify); err != nil {
			return nil, err
		}
	}
	opts := []grpc.DialOption{grpc.WithTransportCredentials(creds)}
	if o.token != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(bearerCreds{token: o.token, secure: !o.plaintext}))
	}
	//nolint:staticcheck // DialContext is supported through 1.x; migrate when grpc.NewClient is stable
	return grpc.DialContext(ctx, o.addr, opts...)
}

// invoke calls an admin method with a Struct request and returns the Struct response.
func invoke(ctx context.Context, cc grpc.ClientConnInterface, method string, req *structpb.Struct) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := cc.Invoke(ctx, grpcserver.FullMethod(method), req, out); err != nil {
		return nil, err
	}
	return out, nil
}

// ---- utils ----

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}

func render(w io.Writer, m *structpb.Struct) error {
	b, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(m)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

func usage() {
	fmt.Fprintf(os.Stderr, `gamestatsctl
Usage:
  gamestatsctl -addr HOST:PORT [-cacert file | -insecure | -plaintext] [-request-id id] <cmd> [args]

Commands:
  version
  methods                                              (list admin methods)
  token      -key <hs256 key> -sub <uuid> [-role admin] [-ttl 1h]   (saves token)
  call       <Method> [-data JSON | -file path|-]
  monitor                                              (RunMonitoringCycle)
  check      [-scope stats|xp|all]                     (FindInconsistencies)
  fix        [-user <uuid>] [-scope all|xp]            (FixUser, or FixAllInconsistencies)
  streaks                                              (ResetBrokenStreaks)
  recompute  [-season <uuid>]
  ranking    -cat <CATEGORY> [-limit n] [-season <uuid>] [-user <uuid> [-window n]]
  achievements -user <uuid>
  unlock     -user <uuid> -achievement <uuid>
  season     -file <season.json>                       (CreateSeason)
  finalize   -season <uuid>
  audit      [-user <uuid>] [-limit n]
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands and configures TLS/auth for RPC calls.
func main() {
	// global flags
	addr := flag.String("addr", "localhost:8443", "server addr")
	caPath := flag.String("cacert", "", "CA cert (PEM)")
	skipVerify := flag.Bool("insecure", false, "skip cert verify (dev)")
	plaintext := flag.Bool("plaintext", false, "no TLS (GRPC_INSECURE servers)")
	timeout := flag.Duration("timeout", 5*time.Minute, "per-command deadline")
	requestID := flag.String("request-id", "", "x-request-id sent to the server (default random)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]

	switch cmd {
	case "version":
		fmt.Printf("gamestatsctl %s (%s)\n", version, buildDate)
		return
	case "methods":
		for _, m := range grpcserver.MethodNames() {
			fmt.Println(m)
		}
		return
	case "token":
		tok, exp, err := tokenCommand(args, time.Now())
		if err != nil {
			fail(err)
		}
		if err := saveToken(tok, exp); err != nil {
			fail(err)
		}
		fmt.Println("ok, expires", exp.UTC().Format(time.RFC3339))
		return
	}

	method, req, err := buildRequest(cmd, args)
	if err != nil {
		if errors.Is(err, errUnknownCommand) {
			usage()
		}
		fail(err)
	}

	token, err := loadToken()
	if err != nil {
		fail(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()
	rid := *requestID
	if rid == "" {
		rid = u.Must(u.NewV4()).String()
	}
	ctx = metadata.AppendToOutgoingContext(ctx, "x-request-id", rid)

	cc, err := dial(ctx, dialOptions{addr: *addr, caPath: *caPath, skipVerify: *skipVerify, plaintext: *plaintext, token: token})
	if err != nil {
		fail(err)
	}
	defer cc.Close()

	out, err := invoke(ctx, cc, method, req)
	if err != nil {
		fail(err)
	}
	if err := render(os.Stdout, out); err != nil {
		fail(err)
	}
}

func fail(err error) {
	if s, ok := status.FromError(err); ok {
		fmt.Fprintf(os.Stderr, "rpc error: code=%s msg=%s\n", s.Code(), s.Message())
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
