package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

func main() {
	var (
		wsURL      = flag.String("ws", "ws://127.0.0.1:58733/ws", "strafetune status feed URL")
		showStatus = flag.Bool("status", false, "Also print periodic status frames")
		showAxis   = flag.Bool("axis", false, "Also print axis transitions")
		raw        = flag.Bool("raw", false, "Print every frame as received")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	// Mutex to protect concurrent writes to websocket
	var writeMu sync.Mutex

	conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	pingTicker := time.NewTicker(30 * time.Second)
	defer pingTicker.Stop()

	go func() {
		for range pingTicker.C {
			writeMu.Lock()
			err := conn.WriteMessage(websocket.PingMessage, nil)
			writeMu.Unlock()
			if err != nil {
				log.Printf("ping failed: %v", err)
				return
			}
		}
	}()

	opts := printOptions{status: *showStatus, axis: *showAxis, raw: *raw}
	var totals sessionTotals

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			// Status frames arrive every 500ms; any frame proves the feed is alive.
			conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			switch messageType {
			case websocket.TextMessage:
				if line := formatFrame(message, opts, &totals); line != "" {
					fmt.Println(line)
				}
			case websocket.BinaryMessage:
				fmt.Printf("[BINARY] %d bytes\n", len(message))
			}
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}

	if totals.count > 0 {
		log.Printf("%d counter-strafes seen, avg %.1fms, %d perfect", totals.count, totals.sumMS/float64(totals.count), totals.perfect)
	}
}

type printOptions struct {
	status bool
	axis   bool
	raw    bool
}

type sessionTotals struct {
	count   int
	perfect int
	sumMS   float64
}

// frame mirrors the daemon's envelope; data is decoded per type.
type frame struct {
	Type string          `json:"type"`
	Ts   time.Time       `json:"ts"`
	Data json.RawMessage `json:"data"`
}

type counterStrafe struct {
	Axis       string  `json:"axis"`
	Key        string  `json:"key"`
	DurationMS float64 `json:"duration_ms"`
	Quality    string  `json:"quality"`
	Weapon     string  `json:"weapon"`
}

type axisTransition struct {
	Axis string `json:"axis"`
	From string `json:"from"`
	To   string `json:"to"`
}

type keyTarget struct {
	AP float64 `json:"ap"`
	RT float64 `json:"rt"`
}

type targetsWritten struct {
	Targets [4]keyTarget `json:"targets"`
	Count   uint64       `json:"count"`
}

type status struct {
	Mode             string  `json:"mode"`
	Speed            float64 `json:"speed"`
	TimeToAccurateMS float64 `json:"time_to_accurate_ms"`
	H                struct {
		State string `json:"state"`
	} `json:"h"`
	V struct {
		State string `json:"state"`
	} `json:"v"`
	Telemetry struct {
		WeaponName string `json:"weapon_name"`
		RoundPhase string `json:"round_phase"`
		Connected  bool   `json:"connected"`
	} `json:"telemetry"`
	WriteCount  uint64 `json:"write_count"`
	WriteErrors uint64 `json:"write_errors"`
}

// formatFrame renders one feed frame as a single line. An empty result means
// the frame is filtered out.
func formatFrame(message []byte, opts printOptions, totals *sessionTotals) string {
	if opts.raw {
		return string(message)
	}

	var f frame
	if err := json.Unmarshal(message, &f); err != nil {
		return fmt.Sprintf("[TEXT] %s", string(message))
	}

	switch f.Type {
	case "counter_strafe":
		var cs counterStrafe
		if err := json.Unmarshal(f.Data, &cs); err != nil {
			return fmt.Sprintf("[COUNTER] bad payload: %v", err)
		}
		totals.count++
		totals.sumMS += cs.DurationMS
		if cs.Quality == "PERF" {
			totals.perfect++
		}
		line := fmt.Sprintf("[COUNTER] %s %s %.1fms %s", cs.Axis, cs.Key, cs.DurationMS, cs.Quality)
		if cs.Weapon != "" {
			line += " " + cs.Weapon
		}
		return line

	case "targets_written":
		var tw targetsWritten
		if err := json.Unmarshal(f.Data, &tw); err != nil {
			return fmt.Sprintf("[WRITE] bad payload: %v", err)
		}
		t := tw.Targets
		return fmt.Sprintf("[WRITE #%d] W=%.2f/%.2f A=%.2f/%.2f S=%.2f/%.2f D=%.2f/%.2f",
			tw.Count, t[0].AP, t[0].RT, t[1].AP, t[1].RT, t[2].AP, t[2].RT, t[3].AP, t[3].RT)

	case "axis_transition":
		if !opts.axis {
			return ""
		}
		var at axisTransition
		if err := json.Unmarshal(f.Data, &at); err != nil {
			return fmt.Sprintf("[AXIS] bad payload: %v", err)
		}
		return fmt.Sprintf("[AXIS] %s %s -> %s", at.Axis, at.From, at.To)

	case "status", "state_init":
		if f.Type == "status" && !opts.status {
			return ""
		}
		var st status
		if err := json.Unmarshal(f.Data, &st); err != nil {
			return fmt.Sprintf("[STATUS] bad payload: %v", err)
		}
		weapon := "-"
		if st.Telemetry.Connected && st.Telemetry.WeaponName != "" {
			weapon = st.Telemetry.WeaponName
		}
		return fmt.Sprintf("[STATUS] mode=%s h=%s v=%s speed=%.0f tta=%.0fms weapon=%s writes=%d errors=%d",
			st.Mode, st.H.State, st.V.State, st.Speed, st.TimeToAccurateMS, weapon, st.WriteCount, st.WriteErrors)

	default:
		prettyJSON, _ := json.MarshalIndent(f, "", "  ")
		return fmt.Sprintf("[RESPONSE]\n%s", string(prettyJSON))
	}
}
