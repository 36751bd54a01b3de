package executor

import (
	"bufio"
	"bytes"
	"encoding/json"
	"io"
	"strings"
	"sync"

	"github.com/rs/zerolog"
)

// Trainer processes report to the orchestrator by printing one JSON object per
// line on stdout:
//
//	{"event":"progress","step":10,"total_steps":300}
//	{"event":"metrics","metrics":{"train_loss":0.71}}
//	{"event":"error","message":"CUDA out of memory"}
//
// Any other output is treated as plain trainer logging.
type trainerMessage struct {
	Event      string             `json:"event"`
	Step       int                `json:"step"`
	TotalSteps int                `json:"total_steps"`
	Metrics    map[string]float64 `json:"metrics"`
	Message    string             `json:"message"`
}

type streamResult struct {
	metrics  map[string]float64
	errorMsg string
}

const maxTrainerLine = 1 << 20

// consumeStream reads trainer output until EOF, forwarding progress reports
func consumeStream(r io.Reader, progress ProgressFunc, logger *zerolog.Logger) (streamResult, error) {
	var res streamResult
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), maxTrainerLine)

	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}

		var msg trainerMessage
		if line[0] != '{' || json.Unmarshal(line, &msg) != nil || msg.Event == "" {
			logger.Debug().Str("line", string(line)).Msg("trainer output")
			continue
		}

		switch msg.Event {
		case "progress":
			if progress != nil {
				progress(msg.Step, msg.TotalSteps)
			}
		case "metrics":
			if res.metrics == nil {
				res.metrics = make(map[string]float64, len(msg.Metrics))
			}
			for k, v := range msg.Metrics {
				res.metrics[k] = v
			}
		case "error":
			res.errorMsg = strings.TrimSpace(msg.Message)
		default:
			logger.Debug().Str("event", msg.Event).Msg("unknown trainer event")
		}
	}
	return res, scanner.Err()
}

// tailBuffer keeps the last n bytes written to it
type tailBuffer struct {
	mu  sync.Mutex
	n   int
	buf []byte
}

func newTailBuffer(n int) *tailBuffer {
	return &tailBuffer{n: n}
}

func (t *tailBuffer) Write(p []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.buf = append(t.buf, p...)
	if over := len(t.buf) - t.n; over > 0 {
		t.buf = t.buf[over:]
	}
	return len(p), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}
