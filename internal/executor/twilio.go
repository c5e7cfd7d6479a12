package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"time"

	"github.com/twilio/twilio-go"
	twilioclient "github.com/twilio/twilio-go/client"
	twilioapi "github.com/twilio/twilio-go/rest/api/v2010"
)

// Ring resolution defaults.
const (
	DefaultRingTimeout        = 90 * time.Second
	DefaultStatusPollInterval = 2 * time.Second
)

// Opts holds configuration options for the Twilio voice platform adapter.
type Opts struct {
	AccountSID         string
	AuthToken          string
	CallerID           string // E.164 number patients see
	TrunkSIP           string // SIP address of the outbound trunk's agent endpoint
	AgentURL           string // webhook the dialogue agent answers on
	RingTimeout        time.Duration
	StatusPollInterval time.Duration
}

// Option defines a configuration option for the Twilio voice platform.
type Option func(*Opts)

// WithAccountSID sets the Twilio account SID.
func WithAccountSID(sid string) Option {
	return func(o *Opts) { o.AccountSID = sid }
}

// WithAuthToken sets the Twilio auth token.
func WithAuthToken(token string) Option {
	return func(o *Opts) { o.AuthToken = token }
}

// WithCallerID sets the outbound caller id.
func WithCallerID(callerID string) Option {
	return func(o *Opts) { o.CallerID = callerID }
}

// WithTrunkSIP sets the trunk SIP address the agent leg dials out through.
func WithTrunkSIP(trunkSIP string) Option {
	return func(o *Opts) { o.TrunkSIP = trunkSIP }
}

// WithAgentURL sets the dialogue agent's webhook URL.
func WithAgentURL(agentURL string) Option {
	return func(o *Opts) { o.AgentURL = agentURL }
}

// WithRingTimeout sets how long a dialed participant may ring before the
// attempt is treated as unanswered.
func WithRingTimeout(d time.Duration) Option {
	return func(o *Opts) { o.RingTimeout = d }
}

// TwilioPlatform implements VoicePlatform on the Twilio REST API. A call room
// maps onto a named conference: the agent leg joins it first, then the
// patient's phone is bridged in through the trunk.
type TwilioPlatform struct {
	client       *twilio.RestClient
	callerID     string
	trunkSIP     string
	agentURL     string
	ringTimeout  time.Duration
	pollInterval time.Duration
}

var _ VoicePlatform = (*TwilioPlatform)(nil)

// NewTwilioPlatform creates the adapter, falling back to TWILIO_* environment
// variables for anything not supplied via options.
func NewTwilioPlatform(opts ...Option) (*TwilioPlatform, error) {
	var cfg Opts
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.AccountSID == "" {
		cfg.AccountSID = os.Getenv("TWILIO_ACCOUNT_SID")
	}
	if cfg.AuthToken == "" {
		cfg.AuthToken = os.Getenv("TWILIO_AUTH_TOKEN")
	}
	if cfg.CallerID == "" {
		cfg.CallerID = os.Getenv("TWILIO_CALLER_ID")
	}
	if cfg.TrunkSIP == "" {
		cfg.TrunkSIP = os.Getenv("TWILIO_TRUNK_SIP")
	}
	if cfg.AgentURL == "" {
		cfg.AgentURL = os.Getenv("VOICE_AGENT_URL")
	}
	if cfg.RingTimeout <= 0 {
		cfg.RingTimeout = DefaultRingTimeout
	}
	if cfg.StatusPollInterval <= 0 {
		cfg.StatusPollInterval = DefaultStatusPollInterval
	}
	slog.Debug("Twilio platform config loaded",
		"AccountSID_set", cfg.AccountSID != "",
		"AuthToken_set", cfg.AuthToken != "",
		"CallerID_set", cfg.CallerID != "",
		"TrunkSIP_set", cfg.TrunkSIP != "",
		"AgentURL_set", cfg.AgentURL != "")

	if cfg.AccountSID == "" || cfg.AuthToken == "" {
		return nil, fmt.Errorf("account SID and auth token must be provided")
	}
	if cfg.CallerID == "" {
		return nil, fmt.Errorf("caller id must be provided")
	}
	if cfg.AgentURL == "" {
		return nil, fmt.Errorf("agent URL must be provided")
	}

	client := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.AccountSID,
		Password: cfg.AuthToken,
	})

	return &TwilioPlatform{
		client:       client,
		callerID:     cfg.CallerID,
		trunkSIP:     cfg.TrunkSIP,
		agentURL:     cfg.AgentURL,
		ringTimeout:  cfg.RingTimeout,
		pollInterval: cfg.StatusPollInterval,
	}, nil
}

// DispatchAgent starts the dialogue-agent leg: the agent's webhook answers
// with the room name and instruction prompt and joins the conference.
func (p *TwilioPlatform) DispatchAgent(ctx context.Context, roomName, prompt string) (string, error) {
	q := url.Values{}
	q.Set("room", roomName)
	q.Set("prompt", prompt)

	params := &twilioapi.CreateCallParams{}
	params.SetTo(p.agentLegTarget())
	params.SetFrom(p.callerID)
	params.SetUrl(p.agentURL + "?" + q.Encode())

	resp, err := p.client.Api.CreateCall(params)
	if err != nil {
		return "", translateTwilioError(err)
	}
	if resp.Sid == nil {
		return "", fmt.Errorf("agent call created without a SID")
	}
	return "agent-" + *resp.Sid, nil
}

// DialParticipant bridges the patient's phone into the conference room.
// CreateCall only queues the outbound leg, so the call is polled until the
// patient answers or the leg reaches a terminal status; busy and unanswered
// outcomes surface here as SIP failures, not as a successful dial.
func (p *TwilioPlatform) DialParticipant(ctx context.Context, roomName, phoneNumber string) (string, error) {
	params := &twilioapi.CreateCallParams{}
	params.SetTo(phoneNumber)
	params.SetFrom(p.callerID)
	params.SetTwiml(fmt.Sprintf(`<Response><Dial><Conference>%s</Conference></Dial></Response>`, roomName))

	resp, err := p.client.Api.CreateCall(params)
	if err != nil {
		return "", translateTwilioError(err)
	}
	if resp.Sid == nil {
		return "", fmt.Errorf("participant call created without a SID")
	}
	if err := p.awaitAnswer(ctx, *resp.Sid); err != nil {
		return "", err
	}
	return "phone-" + *resp.Sid, nil
}

// awaitAnswer polls the participant leg until it is answered or resolves to a
// terminal status. A leg still ringing past the ring timeout counts as
// unanswered.
func (p *TwilioPlatform) awaitAnswer(ctx context.Context, sid string) error {
	deadline := time.Now().Add(p.ringTimeout)
	for {
		call, err := p.client.Api.FetchCall(sid, &twilioapi.FetchCallParams{})
		if err != nil {
			return translateTwilioError(err)
		}
		status := ""
		if call.Status != nil {
			status = *call.Status
		}
		answered, sipErr := resolveCallStatus(status)
		if sipErr != nil {
			return sipErr
		}
		if answered {
			return nil
		}
		if time.Now().After(deadline) {
			return &SIPStatusError{Code: "408", Text: "no answer before ring timeout"}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.pollInterval):
		}
	}
}

// resolveCallStatus maps a polled Twilio call status onto the answer outcome:
// answered, still pending, or the SIP failure the status represents.
func resolveCallStatus(status string) (answered bool, err error) {
	switch status {
	case "in-progress", "completed":
		return true, nil
	case "busy":
		return false, &SIPStatusError{Code: "486", Text: "participant line busy"}
	case "no-answer":
		return false, &SIPStatusError{Code: "408", Text: "participant did not answer"}
	case "canceled":
		return false, &SIPStatusError{Code: "487", Text: "participant call canceled"}
	case "failed":
		return false, &SIPStatusError{Code: "503", Text: "participant call failed"}
	default:
		// queued, ringing: keep polling.
		return false, nil
	}
}

// agentLegTarget is the address the agent leg dials: the trunk SIP endpoint
// when configured, otherwise the caller id loops back to the webhook.
func (p *TwilioPlatform) agentLegTarget() string {
	if p.trunkSIP != "" {
		return p.trunkSIP
	}
	return p.callerID
}

// twilioErrorToSIP maps the Twilio REST error codes that describe an
// undialable or rejected number onto the SIP outcomes they represent. Twilio's
// code space is its own; codes not listed here carry no SIP meaning and pass
// through to classify as system errors.
var twilioErrorToSIP = map[int]string{
	13224: "404", // dial: invalid phone number
	21211: "404", // invalid 'To' phone number
	21214: "404", // 'To' number cannot be called
	21217: "404", // number unreachable from this account
	21401: "404", // invalid phone number
	21610: "603", // recipient has opted out / is blocked
}

// translateTwilioError converts a Twilio REST error into the SIP failure it
// stands for, when it stands for one; anything else passes through untouched.
func translateTwilioError(err error) error {
	var restErr *twilioclient.TwilioRestError
	if !errors.As(err, &restErr) {
		return err
	}
	if code, ok := twilioErrorToSIP[restErr.Code]; ok {
		return &SIPStatusError{Code: code, Text: restErr.Message}
	}
	return err
}
