package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"time"

	"ZKAttest-Chain/sdk/go/zkattest"
)

func main() {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/sessions", func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodPost:
			w.WriteHeader(http.StatusAccepted)
			_ = json.NewEncoder(w).Encode(zkattest.Session{
				ID:    "session-demo",
				Kind:  "default",
				Phase: "collecting",
			})
		default:
			w.WriteHeader(http.StatusMethodNotAllowed)
		}
	})
	mux.HandleFunc("/api/v1/sessions/session-demo/events", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-ndjson")
		encoder := json.NewEncoder(w)
		_ = encoder.Encode(zkattest.Event{Type: zkattest.EventStatus, SessionID: "session-demo", Phase: "attesting", Progress: 66})
		_ = encoder.Encode(zkattest.Event{
			Type:        zkattest.EventAttestation,
			SessionID:   "session-demo",
			Attestation: &zkattest.AttestationRecord{ReceiptID: "0xdeadbeef", Outcome: "confirmed"},
		})
		_ = encoder.Encode(zkattest.Event{
			Type:      zkattest.EventComplete,
			SessionID: "session-demo",
			Progress:  100,
			Summary:   &zkattest.Summary{Candidates: 1, Verified: 1, Attested: 1},
		})
	})

	srv := httptest.NewServer(mux)
	defer srv.Close()

	client, err := zkattest.NewClient(srv.URL, srv.Client())
	if err != nil {
		panic(err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sess, err := client.SubmitSession(ctx, zkattest.SessionSubmission{Kind: "default"})
	if err != nil {
		panic(err)
	}
	fmt.Printf("submitted session %s (phase=%s)\n", sess.ID, sess.Phase)

	err = client.StreamEvents(ctx, sess.ID, func(event zkattest.Event) error {
		switch event.Type {
		case zkattest.EventAttestation:
			fmt.Printf("attested: receipt=%s outcome=%s\n", event.Attestation.ReceiptID, event.Attestation.Outcome)
		case zkattest.EventComplete:
			fmt.Printf("complete: verified=%d attested=%d\n", event.Summary.Verified, event.Summary.Attested)
		default:
			fmt.Printf("event %s: phase=%s progress=%d\n", event.Type, event.Phase, event.Progress)
		}
		return nil
	})
	if err != nil {
		panic(err)
	}
}
