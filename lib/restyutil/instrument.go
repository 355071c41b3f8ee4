package restyutil

import (
	"log/slog"
	"strconv"
	"sync/atomic"

	"github.com/go-resty/resty/v2"
)

// InstrumentClient wires transcript capture into a resty client. A nil
// output makes it a no-op. Transcripts are rendered only while debug
// logging is enabled, since response bodies can be large.
func InstrumentClient(client *resty.Client, output InstrumentOutput) {
	if output == nil {
		return
	}

	var idcounter uint64
	client.OnAfterResponse(func(_ *resty.Client, res *resty.Response) error {
		ctx := res.Request.Context()
		if !slog.Default().Enabled(ctx, slog.LevelDebug) {
			return nil
		}

		id := strconv.FormatUint(atomic.AddUint64(&idcounter, 1), 10)
		output.Write(id, formatTranscript(res))
		slog.DebugContext(
			ctx, "request transcript written",
			"method", res.Request.Method,
			"url", res.Request.URL,
			"status", res.StatusCode(),
			"transcript", id,
		)
		return nil
	})
}
