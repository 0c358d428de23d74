package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"taintgrid.ai/internal/protocol"
)

var sendFlags struct {
	url     string
	timeout time.Duration
}

var sendCmd = &cobra.Command{
	Use:   "send <ops.json>",
	Short: "Send ops to a running contamd and print the results",
	Long: `send reads one OP object or an array of them ("-" reads stdin), connects
to contamd, and prints every RESULT as a JSON line. It fails if any op failed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readInput(cmd.InOrStdin(), args[0])
		if err != nil {
			return err
		}
		ops, err := parseOps(raw)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), sendFlags.timeout)
		defer cancel()
		return sendOps(ctx, cmd.OutOrStdout(), sendFlags.url, ops)
	},
}

func init() {
	sendCmd.Flags().StringVar(&sendFlags.url, "url", "ws://127.0.0.1:8080/v1/ws", "contamd websocket url")
	sendCmd.Flags().DurationVar(&sendFlags.timeout, "timeout", 30*time.Second, "overall timeout")
	rootCmd.AddCommand(sendCmd)
}

func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(stdin)
	}
	return os.ReadFile(path)
}

func parseOps(raw []byte) ([]protocol.OpMsg, error) {
	raw = bytes.TrimSpace(raw)
	var ops []protocol.OpMsg
	if len(raw) > 0 && raw[0] == '[' {
		if err := json.Unmarshal(raw, &ops); err != nil {
			return nil, fmt.Errorf("parse ops: %w", err)
		}
	} else {
		var op protocol.OpMsg
		if err := json.Unmarshal(raw, &op); err != nil {
			return nil, fmt.Errorf("parse op: %w", err)
		}
		ops = append(ops, op)
	}
	for i := range ops {
		ops[i].Type = protocol.TypeOp
		if ops[i].ID == "" {
			ops[i].ID = fmt.Sprintf("ctl_%d", i+1)
		}
	}
	return ops, nil
}

func sendOps(ctx context.Context, w io.Writer, url string, ops []protocol.OpMsg) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial %s: %w", url, err)
	}
	defer conn.Close()
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetReadDeadline(dl)
		_ = conn.SetWriteDeadline(dl)
	}

	if err := conn.WriteJSON(protocol.HelloMsg{Type: protocol.TypeHello, ProtocolVersion: protocol.Version, Client: "contamctl"}); err != nil {
		return fmt.Errorf("hello: %w", err)
	}
	var welcome protocol.WelcomeMsg
	if err := conn.ReadJSON(&welcome); err != nil {
		return fmt.Errorf("welcome: %w", err)
	}
	fmt.Fprintf(w, "# session=%s tick=%d tuning=%s\n", welcome.SessionID, welcome.Tick, welcome.TuningDigest)

	failed := 0
	enc := json.NewEncoder(w)
	for _, op := range ops {
		if err := conn.WriteJSON(op); err != nil {
			return fmt.Errorf("send %s: %w", op.ID, err)
		}
		var res protocol.ResultMsg
		if err := conn.ReadJSON(&res); err != nil {
			return fmt.Errorf("result %s: %w", op.ID, err)
		}
		if !res.OK {
			failed++
		}
		_ = enc.Encode(res)
	}
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"), time.Now().Add(time.Second))
	if failed > 0 {
		return fmt.Errorf("%d of %d ops failed", failed, len(ops))
	}
	return nil
}
