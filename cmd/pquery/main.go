package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

const submitTopic = "turns.submit"

// turnEvent mirrors the envelope the daemon publishes on events.turns.<id>.
type turnEvent struct {
	Type   string         `json:"type"`
	TurnID string         `json:"turn_id"`
	Data   map[string]any `json:"data"`
}

type submitReply struct {
	TurnID         string `json:"turn_id"`
	ConversationID string `json:"conversation_id"`
	Status         string `json:"status"`
	Error          string `json:"error"`
}

func parseArgs(args []string) (map[string]string, []string) {
	flags := make(map[string]string)
	var rest []string
	for i := 0; i < len(args); i++ {
		if len(args[i]) > 2 && args[i][:2] == "--" {
			if i+1 < len(args) {
				flags[args[i][2:]] = args[i+1]
				i++
			}
			continue
		}
		rest = append(rest, args[i])
	}
	return flags, rest
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, `  pquery [--agent <id>] [--conversation <id>] [--nats <url>] "your question"`)
	os.Exit(1)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// submitTurn sends a turns.submit request and returns the daemon's reply.
func submitTurn(conn *nats.Conn, query, agentID, conversationID string) (*submitReply, error) {
	req := map[string]string{"query": query}
	if agentID != "" {
		req["agent_id"] = agentID
	}
	if conversationID != "" {
		req["conversation_id"] = conversationID
	}

	data, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	msg, err := conn.Request(submitTopic, data, 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("submit request: %w", err)
	}

	var reply submitReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		return nil, fmt.Errorf("unmarshal reply: %w", err)
	}
	return &reply, nil
}

// num converts a decoded JSON number. Missing keys read as zero.
func num(v any) int {
	f, _ := v.(float64)
	return int(f)
}

// formatEvent renders one progress event as a display line. Empty means the
// event carries nothing worth showing.
func formatEvent(ev turnEvent) string {
	switch ev.Type {
	case "turn_started":
		return "turn started"
	case "plan_created":
		return fmt.Sprintf("plan: %v, %d stages, %d nodes",
			ev.Data["strategy"], num(ev.Data["stages"]), num(ev.Data["nodes"]))
	case "stage_started":
		return fmt.Sprintf("stage %d: %v, %d nodes",
			num(ev.Data["stage"])+1, ev.Data["type"], num(ev.Data["nodes"]))
	case "stage_completed":
		return fmt.Sprintf("stage %d done: %v", num(ev.Data["stage"])+1, ev.Data["status"])
	case "node_started":
		return fmt.Sprintf("  %v working...", ev.Data["agent"])
	case "node_completed":
		line := fmt.Sprintf("  %v done (%d tool runs)", ev.Data["agent"], num(ev.Data["tool_runs"]))
		if incomplete, _ := ev.Data["incomplete"].(bool); incomplete {
			line += " [incomplete]"
		}
		return line
	case "node_failed":
		return fmt.Sprintf("  %v failed: %v", ev.Data["agent"], ev.Data["error"])
	case "review_round":
		return fmt.Sprintf("review round %d: %d gaps to close", num(ev.Data["round"]), num(ev.Data["gaps"]))
	default:
		return ""
	}
}

// formatAnswer renders the final turn_completed event and picks the process
// exit code.
func formatAnswer(ev turnEvent) (string, int) {
	status, _ := ev.Data["status"].(string)
	answer, _ := ev.Data["answer"].(string)

	if status == "failed" {
		errMsg, _ := ev.Data["error"].(string)
		if errMsg == "" {
			errMsg = "unknown error"
		}
		return fmt.Sprintf("turn failed: %s", errMsg), 1
	}

	var b strings.Builder
	b.WriteString("\n")
	b.WriteString(answer)
	if caveat, _ := ev.Data["caveat"].(bool); caveat {
		b.WriteString("\n\n(caveat: review found unresolved gaps)")
	}
	return b.String(), 0
}

func main() {
	flags, rest := parseArgs(os.Args[1:])
	query := strings.TrimSpace(strings.Join(rest, " "))
	if query == "" {
		usage()
	}

	natsURL := flags["nats"]
	if natsURL == "" {
		natsURL = os.Getenv("NATS_URL")
	}
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	conn, err := nats.Connect(natsURL)
	if err != nil {
		fatal("connect to nats: %v", err)
	}
	defer conn.Close()

	// Subscribe before submitting so no event is missed.
	events := make(chan *nats.Msg, 256)
	sub, err := conn.ChanSubscribe("events.turns.*", events)
	if err != nil {
		fatal("subscribe: %v", err)
	}
	defer sub.Unsubscribe()
	if err := conn.Flush(); err != nil {
		fatal("flush: %v", err)
	}

	reply, err := submitTurn(conn, query, flags["agent"], flags["conversation"])
	if err != nil {
		fatal("%v (is the daemon running?)", err)
	}
	if reply.Error != "" {
		fatal("%s", reply.Error)
	}
	fmt.Printf("turn %s queued (conversation %s)\n", reply.TurnID, reply.ConversationID)

	deadline := time.After(30 * time.Minute)
	for {
		select {
		case <-deadline:
			fatal("timed out waiting for turn %s", reply.TurnID)
		case m := <-events:
			var ev turnEvent
			if err := json.Unmarshal(m.Data, &ev); err != nil {
				continue
			}
			if ev.TurnID != reply.TurnID {
				continue
			}
			if ev.Type == "turn_completed" {
				out, code := formatAnswer(ev)
				fmt.Println(out)
				if code != 0 {
					os.Exit(code)
				}
				return
			}
			if line := formatEvent(ev); line != "" {
				fmt.Println(line)
			}
		}
	}
}
