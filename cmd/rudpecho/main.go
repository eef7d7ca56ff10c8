// Command rudpecho is a minimal listen/dial harness for exercising a
// Multiplexer end to end over a real UDP substrate.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/danwils/rudp"
	"github.com/rs/zerolog"
)

var (
	mode       string
	addr       string
	remote     string
	configPath string
	message    string
)

func init() {
	flag.StringVar(&mode, "mode", "listen", "listen or dial")
	flag.StringVar(&addr, "addr", "127.0.0.1:9900", "local address to bind")
	flag.StringVar(&remote, "remote", "127.0.0.1:9900", "remote address (dial mode)")
	flag.StringVar(&configPath, "config", "", "path to a YAML config file (optional)")
	flag.StringVar(&message, "message", "hello", "payload to send (dial mode)")
	flag.Parse()
}

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	cfg := rudp.DefaultConfig()
	if configPath != "" {
		loaded, err := rudp.LoadConfig(configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("load config")
		}
		cfg = loaded
	}

	switch mode {
	case "listen":
		runListener(log, cfg)
	case "dial":
		runDialer(log, cfg)
	default:
		fmt.Fprintf(os.Stderr, "unknown mode %q: want listen or dial\n", mode)
		os.Exit(1)
	}
}

func runListener(log zerolog.Logger, cfg *rudp.Config) {
	l, err := rudp.Listen("udp", addr, rudp.WithConfig(cfg), rudp.WithLogger(log))
	if err != nil {
		log.Fatal().Err(err).Str("addr", addr).Msg("listen")
	}
	defer l.Close()
	log.Info().Str("addr", addr).Msg("listening")

	for {
		ctx := context.Background()
		conn, err := l.Accept(ctx)
		if err != nil {
			log.Error().Err(err).Msg("accept")
			return
		}
		go echo(log, conn)
	}
}

func echo(log zerolog.Logger, conn *rudp.Conn) {
	defer conn.Close()
	log.Info().Str("remote", conn.RemoteAddr().String()).Msg("accepted")
	buf := make([]byte, rudp.MTU)
	for {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		n, err := conn.Receive(ctx, buf)
		cancel()
		if err != nil {
			log.Info().Err(err).Msg("connection closed")
			return
		}
		log.Info().Str("remote", conn.RemoteAddr().String()).Bytes("payload", buf[:n]).Msg("received")
		if _, err := conn.Send(context.Background(), buf[:n]); err != nil {
			log.Error().Err(err).Msg("echo send")
			return
		}
	}
}

func runDialer(log zerolog.Logger, cfg *rudp.Config) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := rudp.Dial(ctx, "udp", remote, rudp.WithConfig(cfg), rudp.WithLogger(log))
	if err != nil {
		log.Fatal().Err(err).Str("remote", remote).Msg("dial")
	}
	defer conn.Close()
	log.Info().Str("remote", remote).Msg("connected")

	if _, err := conn.Send(ctx, []byte(message)); err != nil {
		log.Fatal().Err(err).Msg("send")
	}

	buf := make([]byte, rudp.MTU)
	n, err := conn.Receive(ctx, buf)
	if err != nil {
		log.Fatal().Err(err).Msg("receive")
	}
	log.Info().Str("echo", string(buf[:n])).Msg("received reply")
}
