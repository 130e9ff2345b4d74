// Command svote talks to a running sminos gateway over NATS: submit
// proposals, list voting rounds and inspect agent voting records.
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
)

const ipcTopic = "host.ipc.proposals"

type ipcRequest struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type ipcResponse struct {
	OK          bool         `json:"ok"`
	Error       string       `json:"error,omitempty"`
	Result      *voteResult  `json:"result,omitempty"`
	Rounds      []round      `json:"rounds,omitempty"`
	Performance *performance `json:"performance,omitempty"`
}

type voteResult struct {
	Consensus        bool      `json:"consensus"`
	ApprovalRate     float64   `json:"approval_rate"`
	TotalVotes       int       `json:"total_votes"`
	ConfidenceScores []float64 `json:"confidence_scores"`
	Reasons          []string  `json:"reasons"`
	Reason           string    `json:"reason,omitempty"`
}

type round struct {
	ID           string   `json:"id"`
	ActionType   string   `json:"action_type"`
	Proposer     string   `json:"proposer"`
	Status       string   `json:"status"`
	Consensus    *bool    `json:"consensus,omitempty"`
	ApprovalRate *float64 `json:"approval_rate,omitempty"`
	TotalVotes   *int     `json:"total_votes,omitempty"`
	Reason       string   `json:"reason,omitempty"`
}

type performance struct {
	TotalVotes        int     `json:"total_votes"`
	AverageConfidence float64 `json:"average_confidence"`
	ApprovalRate      float64 `json:"approval_rate"`
}

func sendIPC(natsURL, reqType string, payload map[string]any) (*ipcResponse, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	defer conn.Close()

	data, err := json.Marshal(ipcRequest{Type: reqType, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	msg, err := conn.Request(ipcTopic, data, 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ipc request: %w", err)
	}

	var resp ipcResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &resp, nil
}

func parseArgs(args []string) map[string]string {
	result := make(map[string]string)
	for i := 0; i < len(args); i++ {
		if len(args[i]) > 2 && args[i][:2] == "--" && i+1 < len(args) {
			result[args[i][2:]] = args[i+1]
			i++
		}
	}
	return result
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, `  svote propose --agent "..." --type "..." [--params '{"key": "value"}']`)
	fmt.Fprintln(os.Stderr, "  svote rounds [--limit N]")
	fmt.Fprintln(os.Stderr, `  svote performance --agent "..."`)
	os.Exit(1)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	if len(os.Args) < 2 {
		usage()
	}

	command := os.Args[1]
	rest := os.Args[2:]

	switch command {
	case "propose":
		args := parseArgs(rest)
		if args["agent"] == "" || args["type"] == "" {
			fatal("--agent and --type are required")
		}

		params := map[string]any{}
		if args["params"] != "" {
			if err := json.Unmarshal([]byte(args["params"]), &params); err != nil {
				fatal("invalid --params JSON: %v", err)
			}
		}

		resp, err := sendIPC(natsURL, "propose", map[string]any{
			"agent":  args["agent"],
			"type":   args["type"],
			"params": params,
		})
		if err != nil {
			fatal("%v", err)
		}
		if resp.Error != "" {
			fatal("%s", resp.Error)
		}
		printResult(resp.Result)

	case "rounds":
		args := parseArgs(rest)
		payload := map[string]any{}
		if args["limit"] != "" {
			limit, err := strconv.Atoi(args["limit"])
			if err != nil {
				fatal("invalid --limit: %v", err)
			}
			payload["limit"] = limit
		}
		resp, err := sendIPC(natsURL, "rounds", payload)
		if err != nil {
			fatal("%v", err)
		}
		if resp.Error != "" {
			fatal("%s", resp.Error)
		}
		if len(resp.Rounds) == 0 {
			fmt.Println("No rounds recorded.")
			return
		}
		for _, r := range resp.Rounds {
			outcome := "pending"
			if r.Consensus != nil {
				outcome = "rejected"
				if *r.Consensus {
					outcome = "approved"
				}
			}
			fmt.Printf("  %s  %-9s  %s  by %s", r.ID, outcome, r.ActionType, r.Proposer)
			if r.ApprovalRate != nil && r.TotalVotes != nil {
				fmt.Printf("  (%.0f%% of %d votes)", *r.ApprovalRate*100, *r.TotalVotes)
			}
			fmt.Println()
		}

	case "performance":
		args := parseArgs(rest)
		if args["agent"] == "" {
			fatal("--agent is required")
		}
		resp, err := sendIPC(natsURL, "performance", map[string]any{"agent": args["agent"]})
		if err != nil {
			fatal("%v", err)
		}
		if resp.Error != "" {
			fatal("%s", resp.Error)
		}
		p := resp.Performance
		fmt.Printf("Votes cast:         %d\n", p.TotalVotes)
		fmt.Printf("Average confidence: %.2f\n", p.AverageConfidence)
		fmt.Printf("Approval rate:      %.0f%%\n", p.ApprovalRate*100)

	default:
		usage()
	}
}

func printResult(r *voteResult) {
	if r == nil {
		fmt.Println("No result returned.")
		return
	}

	verdict := "REJECTED"
	if r.Consensus {
		verdict = "APPROVED"
	}
	fmt.Printf("%s  (%.0f%% approval over %d votes)\n", verdict, r.ApprovalRate*100, r.TotalVotes)
	if r.Reason != "" {
		fmt.Printf("Reason: %s\n", r.Reason)
	}
	for i, reason := range r.Reasons {
		fmt.Printf("  vote %d (confidence %.2f): %s\n", i+1, r.ConfidenceScores[i], reason)
	}
}
