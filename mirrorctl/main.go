package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/docopt/docopt-go"

	"github.com/editmirror/mirror/mirror"
	"github.com/editmirror/mirror/protocol"
	"github.com/editmirror/mirror/relay"
)

const MirrorCtlVersion = "0.1.0"

var Out *log.Logger
var Err *log.Logger

func init() {
	Out = log.New(os.Stdout, "", 0)
	Err = log.New(os.Stderr, "", log.Ldate|log.Ltime|log.Lshortfile)
}

func main() {
	usage := `Mirror control.

Usage:
    mirrorctl relay [--config=<config>] [--port=<port>]
    mirrorctl send --url=<url> --artifact=<artifact>
        [--baseline=<baseline>]
        [--watch]
        [--poll_ms=<poll_ms>]
    mirrorctl view --url=<url>
        [--prompt=<prompt>]

Options:
    -h --help                 Show this screen.
    --version                 Show version.
    --config=<config>         Relay yaml config file.
    --port=<port>             Relay listening port (overrides config).
    --url=<url>               Relay websocket url, e.g. ws://localhost:8080/ws
    --artifact=<artifact>     Path of the file to mirror.
    --baseline=<baseline>     Path of the baseline version of the file.
    --watch                   Keep watching the artifact for changes.
    --poll_ms=<poll_ms>       Watch poll interval in milliseconds [default: 500].
    --prompt=<prompt>         Send one control request to the producer.`

	opts, err := docopt.ParseArgs(usage, os.Args[1:], MirrorCtlVersion)
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
		<-sigs
		cancel()
	}()

	if relayCmd, _ := opts.Bool("relay"); relayCmd {
		runRelay(ctx, opts)
	} else if send, _ := opts.Bool("send"); send {
		runSend(ctx, opts)
	} else if view, _ := opts.Bool("view"); view {
		runView(ctx, opts)
	}
}

func runRelay(ctx context.Context, opts docopt.Opts) {
	configPath, _ := opts.String("--config")
	config, err := relay.LoadConfig(configPath)
	if err != nil {
		Err.Fatalf("%s", err)
	}
	if port, err := opts.Int("--port"); err == nil {
		config.Port = port
	}

	server := relay.NewServer(ctx, config)
	defer server.Close()
	if err := server.Run(); err != nil {
		Err.Fatalf("%s", err)
	}
}

func runSend(ctx context.Context, opts docopt.Opts) {
	url, _ := opts.String("--url")
	artifactPath, _ := opts.String("--artifact")
	baselinePath, _ := opts.String("--baseline")
	watch, _ := opts.Bool("--watch")
	pollMillis, err := opts.Int("--poll_ms")
	if err != nil {
		pollMillis = 500
	}

	contentSource := &fileContentSource{
		baselinePath: baselinePath,
	}
	settings := mirror.ProducerSettingsFromEnv()
	producer := mirror.NewProducer(
		ctx,
		mirror.NewWebSocketTransport(url, settings.Ws),
		contentSource,
		&printCommandSink{},
		settings,
	)
	defer producer.Close()
	producer.SetStatusSink(func(status mirror.ConnectionStatus) {
		Out.Printf("status: %s", status)
	})

	producer.NotifyArtifactActive(artifactPath)
	if !watch {
		// give the initial snapshot a chance to flush
		select {
		case <-ctx.Done():
		case <-time.After(5 * time.Second):
		}
		return
	}

	// the watcher collaborator is out of scope. a poll loop stands in
	// for it here.
	lastModTime := time.Time{}
	pollTicker := time.NewTicker(time.Duration(pollMillis) * time.Millisecond)
	defer pollTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-pollTicker.C:
			info, err := os.Stat(artifactPath)
			if err != nil {
				continue
			}
			if info.ModTime().After(lastModTime) {
				if !lastModTime.IsZero() {
					producer.NotifyChanged(artifactPath)
				}
				lastModTime = info.ModTime()
			}
		}
	}
}

func runView(ctx context.Context, opts docopt.Opts) {
	url, _ := opts.String("--url")
	prompt, _ := opts.String("--prompt")

	channel := mirror.NewDeliveryChannelWithDefaults(
		ctx,
		mirror.NewWebSocketTransportWithDefaults(url),
	)
	defer channel.Disconnect()
	channel.SetReceiveSink(func(message *protocol.Message) {
		switch message.Type {
		case protocol.MessageTypeSnapshot:
			printSnapshot(message.Payload)
		case protocol.MessageTypeControlResponse:
			success := message.Success != nil && *message.Success
			if success {
				Out.Printf("control ok")
			} else {
				Out.Printf("control failed: %s", message.Error)
			}
		}
	})
	channel.Connect()
	channel.Send(protocol.NewHeartbeat(protocol.RoleViewer))

	if prompt != "" {
		channel.Send(protocol.NewControlRequest(prompt))
	}

	heartbeatTicker := time.NewTicker(10 * time.Second)
	defer heartbeatTicker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeatTicker.C:
			channel.Send(protocol.NewHeartbeat(protocol.RoleViewer))
		}
	}
}

func printSnapshot(snapshot *protocol.ContextSnapshot) {
	baselineContent, err := protocol.DecodeContent(snapshot.BaselineContent)
	if err != nil {
		Err.Printf("bad baseline content: %s", err)
		return
	}
	currentContent, err := protocol.DecodeContent(snapshot.CurrentContent)
	if err != nil {
		Err.Printf("bad current content: %s", err)
		return
	}
	Out.Printf(
		"%s dirty=%t baseline=%d bytes current=%d bytes (captured %s)",
		snapshot.ArtifactId,
		snapshot.IsDirty,
		len(baselineContent),
		len(currentContent),
		time.UnixMilli(snapshot.CapturedAt).Format(time.RFC3339),
	)
}

// fileContentSource reads the artifact from disk on every trigger.
type fileContentSource struct {
	baselinePath string
}

func (self *fileContentSource) ReadContent(artifactId string) (string, string, bool, error) {
	current, err := os.ReadFile(artifactId)
	if err != nil {
		return "", "", false, err
	}
	baseline := []byte{}
	if self.baselinePath != "" {
		baseline, err = os.ReadFile(self.baselinePath)
		if err != nil {
			return "", "", false, err
		}
	}
	// content on disk is saved by definition
	return string(baseline), string(current), false, nil
}

type printCommandSink struct{}

func (self *printCommandSink) ExecuteCommand(text string) error {
	fmt.Fprintf(os.Stdout, "control request: %s\n", text)
	return nil
}
