package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/nerrad567/therapy-core/internal/device"
	"github.com/nerrad567/therapy-core/internal/dispatch"
)

type prescriptionRequest struct {
	// PatientID may be a string or a number. Malformed ids reach the
	// device as an outcome code instead of failing the request.
	PatientID json.RawMessage `json:"patientId"`
}

type cancelRequest struct {
	Reason string `json:"reason"`
}

type dispatchResponse struct {
	MsgID      string `json:"msgId"`
	ResultCode int    `json:"resultcode"`
	Reason     string `json:"reason,omitempty"`
}

// handleSendPrescription sends the patient's current prescription to the
// device. A lookup failure is still delivered to the device with its
// negative code and answered with 422.
func (s *Server) handleSendPrescription(w http.ResponseWriter, r *http.Request) {
	if s.prescriber == nil {
		writeUnavailable(w, "prescriptions are not configured")
		return
	}
	id, ok := deviceIDParam(w, r)
	if !ok {
		return
	}

	var req prescriptionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	env, err := s.prescriber.Prescribe(r.Context(), id, rawID(req.PatientID), requestID(r))
	if err != nil {
		s.writeDispatchError(w, id, err)
		return
	}

	resp := dispatchResponse{MsgID: env.MsgID, ResultCode: env.ResultCode}
	code := dispatch.Code(env.ResultCode)
	if code != dispatch.CodeOK {
		resp.Reason = code.Reason()
		writeJSON(w, http.StatusUnprocessableEntity, resp)
		return
	}
	writeJSON(w, http.StatusAccepted, resp)
}

// handleCancelPrescription sends a cancel command to the device.
func (s *Server) handleCancelPrescription(w http.ResponseWriter, r *http.Request) {
	if s.prescriber == nil {
		writeUnavailable(w, "prescriptions are not configured")
		return
	}
	id, ok := deviceIDParam(w, r)
	if !ok {
		return
	}

	var req cancelRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
		writeBadRequest(w, "invalid JSON body")
		return
	}

	env, err := s.prescriber.Cancel(r.Context(), id, req.Reason)
	if err != nil {
		s.writeDispatchError(w, id, err)
		return
	}
	writeJSON(w, http.StatusAccepted, dispatchResponse{MsgID: env.MsgID, ResultCode: env.ResultCode})
}

// handleListCommands returns the commands recently dispatched to a device,
// oldest first, with their acknowledgement state.
func (s *Server) handleListCommands(w http.ResponseWriter, r *http.Request) {
	if s.commands == nil {
		writeUnavailable(w, "command tracking is not configured")
		return
	}
	id, ok := deviceIDParam(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"device_id": id,
		"pending":   s.commands.Pending(id),
		"commands":  s.commands.Commands(id),
	})
}

func (s *Server) writeDispatchError(w http.ResponseWriter, deviceID int64, err error) {
	switch {
	case errors.Is(err, device.ErrDeviceNotFound):
		writeNotFound(w, "device not found")
	case errors.Is(err, device.ErrAmbiguousDeviceNo):
		writeError(w, http.StatusConflict, "device number is shared by several devices")
	case errors.Is(err, dispatch.ErrNoAddress):
		writeError(w, http.StatusConflict, "device has no broker address yet")
	case errors.Is(err, dispatch.ErrPublish):
		writeUnavailable(w, "broker did not accept the command")
	default:
		s.logger.Error("dispatch failed", "device_id", deviceID, "error", err)
		writeInternalError(w, "failed to dispatch command")
	}
}

func requestID(r *http.Request) string {
	id, _ := r.Context().Value(ctxKeyRequestID).(string)
	return id
}

// rawID renders a JSON string or number as the plain id text.
func rawID(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return string(raw)
}
