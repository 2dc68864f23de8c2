package api

import (
	"bufio"
	"encoding/json"
	"io"

	"github.com/anthropics/memory-go/internal/events"
	"github.com/anthropics/memory-go/pkg/types"
)

// ServeStdio runs the JSON-RPC dispatcher over a line-framed stream: one
// JSON request object per input line, one JSON response object per output
// line. Requests with a null/absent id are notifications and produce no
// response. The transport is single-threaded; requests are served in order.
func (s *Server) ServeStdio(r io.Reader, w io.Writer) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 16<<20)
	enc := json.NewEncoder(w)

	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		s.requestCount.Add(1)

		var req Request
		if err := json.Unmarshal(line, &req); err != nil {
			s.errorCount.Add(1)
			enc.Encode(NewErrorResponse(nil, types.RPCParseError, "invalid JSON", nil))
			continue
		}

		if rpcErr := req.Validate(); rpcErr != nil {
			s.errorCount.Add(1)
			if req.ID != nil {
				enc.Encode(NewErrorResponse(req.ID, rpcErr.Code, rpcErr.Message, nil))
			}
			continue
		}

		result, rpcErr := s.dispatch(&req, events.NewTraceID())
		if req.ID == nil {
			continue
		}
		if rpcErr != nil {
			s.errorCount.Add(1)
			enc.Encode(NewErrorResponse(req.ID, rpcErr.Code, rpcErr.Message, nil))
			continue
		}
		s.successCount.Add(1)
		enc.Encode(NewResponse(req.ID, result))
	}

	return scanner.Err()
}
