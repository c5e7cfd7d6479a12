// Package executor adapts a claimed schedule item into an outbound call
// against the external voice platform and classifies the outcome.
//
// The platform owns the dialogue itself (speech, LLM orchestration); this
// package only dispatches an agent session into a call room, bridges the
// patient's phone into that room, and translates what comes back into a
// CallExecutionResult. The retry policy lives with the classification tables,
// not here.
package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"github.com/carebridge/followcall/internal/callresult"
	"github.com/carebridge/followcall/internal/models"
	"github.com/carebridge/followcall/internal/util"
)

// VoicePlatform is the external telephony collaborator: it runs an agent in
// a call room and bridges phone participants into rooms via an outbound trunk.
type VoicePlatform interface {
	// DispatchAgent starts a dialogue-agent session in the named room with
	// the given instruction prompt and returns the agent's participant
	// identity.
	DispatchAgent(ctx context.Context, roomName, prompt string) (string, error)
	// DialParticipant bridges the phone number into the named room and
	// returns the phone participant's identity. SIP failures are reported
	// as *SIPStatusError.
	DialParticipant(ctx context.Context, roomName, phoneNumber string) (string, error)
}

// SIPStatusError is a structured SIP failure reported by the platform.
type SIPStatusError struct {
	Code string
	Text string
}

func (e *SIPStatusError) Error() string {
	if e.Text == "" {
		return fmt.Sprintf("SIP %s", e.Code)
	}
	return fmt.Sprintf("SIP %s: %s", e.Code, e.Text)
}

// CallExecutor runs one call attempt end to end.
type CallExecutor struct {
	platform VoicePlatform
}

// NewCallExecutor creates an executor over the given platform.
func NewCallExecutor(platform VoicePlatform) *CallExecutor {
	return &CallExecutor{platform: platform}
}

// Execute dispatches the agent, bridges the patient, and classifies the
// outcome. Session identifiers are written onto the record as soon as they
// exist so even failed attempts carry them for audit.
func (e *CallExecutor) Execute(ctx context.Context, item *models.CallScheduleItem, rec *models.CallRecord) *callresult.CallExecutionResult {
	roomName := util.GenerateRoomName()
	rec.RoomName = roomName
	started := time.Now()

	agentIdentity, err := e.platform.DispatchAgent(ctx, roomName, item.LLMPrompt)
	if err != nil {
		slog.Error("CallExecutor.Execute: agent dispatch failed", "id", item.ID, "room", roomName, "error", err)
		return classifyError(err)
	}
	slog.Debug("CallExecutor.Execute: agent dispatched", "id", item.ID, "room", roomName, "agent", agentIdentity)

	participantIdentity, err := e.platform.DialParticipant(ctx, roomName, item.PatientPhone)
	if err != nil {
		slog.Warn("CallExecutor.Execute: dial failed", "id", item.ID, "room", roomName, "error", err)
		return classifyError(err)
	}
	rec.ParticipantIdentity = participantIdentity

	result := callresult.SuccessResult(roomName, participantIdentity, time.Since(started))
	slog.Info("CallExecutor.Execute: call bridged", "id", item.ID, "room", roomName, "participant", participantIdentity)
	return result
}

// classifyError routes a platform error into the result taxonomy: structured
// SIP failures through the status table, transport failures as network
// errors, anything else as a (retryable) system error.
func classifyError(err error) *callresult.CallExecutionResult {
	var sipErr *SIPStatusError
	if errors.As(err, &sipErr) {
		return callresult.SIPError(sipErr.Code, sipErr.Text)
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return callresult.NetworkError(err)
	}
	return callresult.SystemError(err)
}
