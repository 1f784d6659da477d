package transport

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/m4xw311/mcpchat/protocol"
)

// DoneSentinel ends an event stream.
const DoneSentinel = "[DONE]"

const maxLineSize = 1024 * 1024

// DecodeOptions are the optional hooks of DecodeStream.
type DecodeOptions struct {
	// OnMalformed is called for every data line that is not a valid message.
	// The line is skipped either way.
	OnMalformed func(payload string, err error)
}

// DecodeStream reads an SSE body line by line and passes every decoded
// message to deliver, in arrival order. It stops at the [DONE] sentinel, at
// EOF, on a read error, or when ctx is done. The body is always closed.
// The returned count is the number of delivered messages.
func DecodeStream(ctx context.Context, body io.ReadCloser, deliver func(*protocol.Message), opts DecodeOptions) (int, error) {
	defer body.Close()

	// closing the body unblocks a pending read when ctx ends
	stop := context.AfterFunc(ctx, func() { body.Close() })
	defer stop()

	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineSize)

	n := 0
	for scanner.Scan() {
		payload, ok := dataPayload(scanner.Text())
		if !ok || payload == "" {
			continue
		}
		if payload == DoneSentinel {
			return n, nil
		}
		msg, err := protocol.Decode([]byte(payload))
		if err != nil {
			if opts.OnMalformed != nil {
				opts.OnMalformed(payload, err)
			}
			continue
		}
		deliver(msg)
		n++
	}
	if ctx.Err() != nil {
		return n, ctx.Err()
	}
	return n, scanner.Err()
}

// dataPayload extracts the value of a "data:" field line. Comments, blank
// lines and other fields (event, id, retry) are not data.
func dataPayload(line string) (string, bool) {
	line = strings.TrimSuffix(line, "\r")
	if !strings.HasPrefix(line, "data:") {
		return "", false
	}
	payload := strings.TrimPrefix(line, "data:")
	payload = strings.TrimPrefix(payload, " ")
	return payload, true
}
