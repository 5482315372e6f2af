package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/acme/attendance-dispatch/internal/app"
	"github.com/acme/attendance-dispatch/internal/attendance"
	"github.com/acme/attendance-dispatch/internal/domain"
	"github.com/acme/attendance-dispatch/internal/service/common"
	"github.com/acme/attendance-dispatch/internal/telemetry"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	configPath := flag.String("config", getEnv("CONFIG_FILE", "configs/config.yaml"), "path to configuration file")
	assumeOnline := flag.Bool("assume-online", false, "skip the reachability probe")
	deviceID := flag.String("device", getEnv("DEVICE_ID", ""), "device identifier")
	deviceName := flag.String("name", getEnv("DEVICE_NAME", ""), "device owner name")
	kind := flag.String("kind", "in", "record kind")
	action := flag.String("action", "submit", "one of roster, recent, submit, validate")
	supervisor := flag.String("supervisor", "", "supervisor of the worker")
	worker := flag.String("worker", "", "worker being recorded")
	location := flag.String("location", "", "work location")
	presence := flag.String("presence", string(domain.PresencePresent), "present, sick, leave or absent")
	note := flag.String("note", "", "note for sick or leave records")
	photo := flag.String("photo", "", "path to a photo, required when present")
	flag.Parse()

	client, err := app.BuildClient(*configPath, app.ClientOptions{
		Device:       domain.Device{ID: *deviceID, Name: *deviceName},
		AssumeOnline: *assumeOnline,
	})
	if err != nil {
		log.Fatalf("failed to bootstrap client: %v", err)
	}
	defer client.Close(context.Background())

	shutdown, err := telemetry.Setup(ctx, client.Config.Telemetry, client.Config.App.Name+"-submit")
	if err != nil {
		log.Fatalf("failed to set up telemetry: %v", err)
	}
	defer shutdown(context.Background())

	var out any
	switch *action {
	case "roster":
		out, err = client.Attendance.FetchRoster(ctx)
	case "recent":
		out, err = client.Attendance.FetchRecent(ctx)
	case "validate":
		out, err = client.Attendance.Validate(ctx)
	case "submit":
		sub := domain.Submission{
			Kind:       *kind,
			Supervisor: *supervisor,
			Worker:     *worker,
			Location:   *location,
			Presence:   domain.Presence(*presence),
			Note:       *note,
		}
		if *photo != "" {
			raw, rerr := os.ReadFile(*photo)
			if rerr != nil {
				log.Fatalf("read photo: %v", rerr)
			}
			sub.Photo = &domain.Attachment{
				Name:        filepath.Base(*photo),
				ContentType: http.DetectContentType(raw),
				Data:        common.EncodeBase64(raw),
			}
		}
		out, err = client.Attendance.Submit(ctx, sub)
	default:
		log.Fatalf("unknown action %q", *action)
	}

	if err != nil {
		var rej *attendance.Rejection
		if errors.As(err, &rej) {
			emit(rej.Result)
			fmt.Fprintf(os.Stderr, "%s: %s\n", rej.Head, rej.Text)
			os.Exit(1)
		}
		log.Fatalf("%s failed: %v", *action, err)
	}
	emit(out)
}

func emit(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		log.Printf("encode output: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
