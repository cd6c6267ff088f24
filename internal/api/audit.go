package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/nerrad567/therapy-core/internal/audit"
)

// handleListAudit returns a page of the message audit trail.
//
// Query parameters: direction, msg_id, msg_type, device_id, unknown,
// since, until (RFC3339), limit, offset.
func (s *Server) handleListAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeUnavailable(w, "audit trail is not configured")
		return
	}

	filter, msg := parseAuditFilter(r)
	if msg != "" {
		writeBadRequest(w, msg)
		return
	}

	result, err := s.audit.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("listing audit records", "error", err)
		writeInternalError(w, "failed to list audit records")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func parseAuditFilter(r *http.Request) (audit.Filter, string) {
	q := r.URL.Query()
	f := audit.Filter{
		Direction:   audit.Direction(q.Get("direction")),
		MessageID:   q.Get("msg_id"),
		MessageType: q.Get("msg_type"),
	}

	switch f.Direction {
	case "", audit.DirectionInbound, audit.DirectionOutbound:
	default:
		return f, "direction must be inbound or outbound"
	}

	if v := q.Get("device_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return f, "device_id must be an integer"
		}
		f.DeviceID = &id
	}
	if v := q.Get("unknown"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, "unknown must be true or false"
		}
		f.Unknown = &b
	}
	for name, dst := range map[string]**time.Time{"since": &f.Since, "until": &f.Until} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return f, name + " must be an RFC3339 timestamp"
		}
		*dst = &t
	}
	for name, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return f, name + " must be a non-negative integer"
		}
		*dst = n
	}
	return f, ""
}
