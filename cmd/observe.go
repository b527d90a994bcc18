package cmd

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/plant-twin/twinsim/sim/bridge"
)

var (
	observeURL      string        // Bridge WebSocket URL
	observeNames    []string      // References to sample
	observeInterval time.Duration // Sampling interval
	observeSamples  int           // Number of samples
)

// RemoteClient sends frames to a simulation bridge. It is safe for concurrent
// use; frames are sent one at a time.
type RemoteClient struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	nextID uint64
}

// DialRemote connects to a bridge.
func DialRemote(ctx context.Context, url string) (*RemoteClient, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	return &RemoteClient{conn: conn}, nil
}

// Close closes the session.
func (c *RemoteClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	return c.conn.Close()
}

// RequestRecord captures one frame/reply cycle.
type RequestRecord struct {
	RequestID    uint64
	Op           string
	Status       string // "ok", "error"
	ErrorKind    string
	ErrorMessage string
	SendTimeUs   int64
	ReplyTimeUs  int64
}

// Send writes f with a fresh id and waits for its reply. Transport failures are
// returned as errors; request failures are recorded in the record.
func (c *RemoteClient) Send(ctx context.Context, f bridge.Frame) (*RequestRecord, bridge.Reply, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.nextID++
	f.ID = c.nextID
	record := &RequestRecord{RequestID: f.ID, Op: f.Op, Status: "ok"}

	deadline, ok := ctx.Deadline()
	if !ok {
		deadline = time.Now().Add(30 * time.Second)
	}
	_ = c.conn.SetWriteDeadline(deadline)
	_ = c.conn.SetReadDeadline(deadline)

	record.SendTimeUs = time.Now().UnixMicro()
	if err := c.conn.WriteJSON(f); err != nil {
		return nil, bridge.Reply{}, fmt.Errorf("sending frame %d: %w", f.ID, err)
	}
	var reply bridge.Reply
	if err := c.conn.ReadJSON(&reply); err != nil {
		return nil, bridge.Reply{}, fmt.Errorf("reading reply %d: %w", f.ID, err)
	}
	record.ReplyTimeUs = time.Now().UnixMicro()
	if reply.ID != f.ID {
		return nil, reply, fmt.Errorf("reply id %d does not match frame %d", reply.ID, f.ID)
	}
	if !reply.OK {
		record.Status = "error"
		record.ErrorKind = string(reply.Kind)
		record.ErrorMessage = reply.Error
	}
	return record, reply, nil
}

// Recorder captures per-request timing (goroutine-safe).
type Recorder struct {
	mu      sync.Mutex
	records []RequestRecord
}

// RecordRequest captures one request-response cycle.
func (r *Recorder) RecordRequest(record *RequestRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, *record)
}

// Records returns all recorded request records.
func (r *Recorder) Records() []RequestRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]RequestRecord, len(r.records))
	copy(result, r.records)
	return result
}

// MeanRoundTrip returns the mean send-to-reply time.
func (r *Recorder) MeanRoundTrip() time.Duration {
	records := r.Records()
	if len(records) == 0 {
		return 0
	}
	var total int64
	for _, rec := range records {
		total += rec.ReplyTimeUs - rec.SendTimeUs
	}
	return time.Duration(total/int64(len(records))) * time.Microsecond
}

// observeCmd samples references from a running server through its bridge
var observeCmd = &cobra.Command{
	Use:   "observe",
	Short: "Sample references from a running server and print a CSV series",
	Run: func(cmd *cobra.Command, args []string) {
		setupLogging()
		if err := observe(cmd.Context(), os.Stdout, &Recorder{}); err != nil {
			logrus.Fatalf("observe failed: %v", err)
		}
	},
}

// observe polls --names every --interval, --samples times, writing one CSV row
// per sample.
func observe(ctx context.Context, w io.Writer, rec *Recorder) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if len(observeNames) == 0 {
		return fmt.Errorf("--names is required")
	}
	if observeInterval <= 0 {
		return fmt.Errorf("--interval must be positive, got %v", observeInterval)
	}
	client, err := DialRemote(ctx, observeURL)
	if err != nil {
		return err
	}
	defer client.Close()

	cw := csv.NewWriter(w)
	if err := cw.Write(append([]string{"time_us"}, observeNames...)); err != nil {
		return err
	}
	ticker := time.NewTicker(observeInterval)
	defer ticker.Stop()
	for i := 0; i < observeSamples; i++ {
		record, reply, err := client.Send(ctx, bridge.Frame{Op: "MULTIGET", Names: observeNames})
		if err != nil {
			return err
		}
		rec.RecordRequest(record)
		if !reply.OK {
			return fmt.Errorf("%s: %s", reply.Kind, reply.Error)
		}
		row := []string{strconv.FormatInt(record.ReplyTimeUs, 10)}
		for _, name := range observeNames {
			row = append(row, strconv.FormatFloat(reply.Values[name], 'f', 3, 64))
		}
		if err := cw.Write(row); err != nil {
			return err
		}
		cw.Flush()
		if i == observeSamples-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	cw.Flush()
	logrus.Infof("%d samples, mean round trip %v", len(rec.Records()), rec.MeanRoundTrip())
	return cw.Error()
}

func init() {
	observeCmd.Flags().StringVar(&observeURL, "url", "ws://127.0.0.1:8765/ws", "Bridge WebSocket URL")
	observeCmd.Flags().StringSliceVar(&observeNames, "names", []string{"Mixer100.Level", "Mixer100.Temperature"}, "Comma-separated references to sample")
	observeCmd.Flags().DurationVar(&observeInterval, "interval", time.Second, "Sampling interval")
	observeCmd.Flags().IntVar(&observeSamples, "samples", 10, "Number of samples")

	rootCmd.AddCommand(observeCmd)
}
