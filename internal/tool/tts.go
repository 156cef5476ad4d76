package tool

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/cloudwego/eino/schema"

	"github.com/telebot-agent/chatengine/internal/event"
	"github.com/telebot-agent/chatengine/internal/types"
)

// No TTS provider SDK (Azure Speech, edge-tts, or otherwise) appears
// anywhere in the example corpus; synthesis is called as a direct
// JSON-over-HTTP request against the user-configured endpoint, the
// same raw-net/http style the teacher uses in webfetch.go.
const ttsTimeout = 30 * time.Second

// VoiceClip is one synthesized audio result waiting for delivery.
type VoiceClip struct {
	UserID     int64
	Audio      []byte
	Format     string
	EnqueuedAt time.Time
}

// VoiceQueue holds per-user pending voice clips in enqueue order, the
// side channel spec §4.6 drains after each turn's streaming loop.
type VoiceQueue struct {
	mu    sync.Mutex
	clips map[int64][]VoiceClip
}

// NewVoiceQueue creates an empty queue.
func NewVoiceQueue() *VoiceQueue {
	return &VoiceQueue{clips: make(map[int64][]VoiceClip)}
}

func (q *VoiceQueue) enqueue(clip VoiceClip) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.clips[clip.UserID] = append(q.clips[clip.UserID], clip)
	return len(q.clips[clip.UserID])
}

// Drain removes and returns every pending clip for userID, in
// enqueue order.
func (q *VoiceQueue) Drain(userID int64) []VoiceClip {
	q.mu.Lock()
	defer q.mu.Unlock()
	clips := q.clips[userID]
	delete(q.clips, userID)
	return clips
}

// ttsSettingsProvider is the subset of *services.Services the TTS
// tools need to resolve the configured voice.
type ttsSettingsProvider interface {
	GetUserSettings(userID int64) *types.UserSettings
}

// ttsClient is shared state between the two TTS-surfaced tools
// (tts_speak, tts_list_voices).
type ttsClient struct {
	endpoint     string
	defaultVoice string
	client       *http.Client
	queue        *VoiceQueue
	bus          *event.Bus
	settings     ttsSettingsProvider
}

func newTTSClient(endpoint, defaultVoice string, queue *VoiceQueue, bus *event.Bus, settings ttsSettingsProvider) *ttsClient {
	return &ttsClient{
		endpoint:     endpoint,
		defaultVoice: defaultVoice,
		client:       &http.Client{Timeout: ttsTimeout},
		queue:        queue,
		bus:          bus,
		settings:     settings,
	}
}

// resolveVoice implements spec §4.7's priority: user setting > call
// argument > environment default.
func (c *ttsClient) resolveVoice(userID int64, argVoice string) string {
	if s := c.settings.GetUserSettings(userID); s != nil && s.TTSVoice != "" {
		return s.TTSVoice
	}
	if argVoice != "" {
		return argVoice
	}
	return c.defaultVoice
}

type synthesizeRequest struct {
	Text   string `json:"text"`
	Voice  string `json:"voice,omitempty"`
	Style  string `json:"style,omitempty"`
	Rate   string `json:"rate,omitempty"`
	Pitch  string `json:"pitch,omitempty"`
	Format string `json:"format,omitempty"`
}

func (c *ttsClient) synthesize(ctx context.Context, req synthesizeRequest) ([]byte, string, error) {
	if c.endpoint == "" {
		return nil, "", fmt.Errorf("tts: no endpoint configured")
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, "", err
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(payload))
	if err != nil {
		return nil, "", err
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, "", fmt.Errorf("tts: provider returned status %d", resp.StatusCode)
	}

	audio, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", err
	}
	format := req.Format
	if format == "" {
		format = "ogg"
	}
	return audio, format, nil
}

// NewTTSTools builds both TTS-surfaced tools sharing one client, one
// endpoint, and one pending-voice queue.
func NewTTSTools(endpoint, defaultVoice string, queue *VoiceQueue, bus *event.Bus, settings ttsSettingsProvider) (*TTSSpeakTool, *TTSListVoicesTool) {
	c := newTTSClient(endpoint, defaultVoice, queue, bus, settings)
	return NewTTSSpeakTool(c), NewTTSListVoicesTool(c)
}

// TTSSpeakTool implements tts_speak: synthesize and enqueue, a
// fire-and-forget tool (Execute returns ok=false).
type TTSSpeakTool struct{ c *ttsClient }

// NewTTSSpeakTool builds the speak tool sharing c's queue/settings.
func NewTTSSpeakTool(c *ttsClient) *TTSSpeakTool { return &TTSSpeakTool{c: c} }

func (t *TTSSpeakTool) Name() string { return "tts_speak" }

func (t *TTSSpeakTool) Definition() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: "tts_speak",
		Desc: "Synthesize speech for the given text and queue it for delivery as a voice message.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"text":   stringParam("Text to speak, at most 2000 characters.", true),
			"voice":  stringParam("Voice name override.", false),
			"style":  stringParam("Speaking style, if supported by the provider.", false),
			"rate":   stringParam("Speech rate, if supported by the provider.", false),
			"pitch":  stringParam("Speech pitch, if supported by the provider.", false),
			"format": stringParam("Audio format, provider-specific.", false),
		}),
	}
}

type ttsSpeakInput struct {
	Text   string `json:"text"`
	Voice  string `json:"voice"`
	Style  string `json:"style"`
	Rate   string `json:"rate"`
	Pitch  string `json:"pitch"`
	Format string `json:"format"`
}

const ttsMaxTextLength = 2000

func (t *TTSSpeakTool) Execute(ctx context.Context, userID int64, argumentsJSON string) (string, bool, error) {
	var in ttsSpeakInput
	if err := json.Unmarshal([]byte(argumentsJSON), &in); err != nil {
		return "", false, nil
	}
	text := strings.TrimSpace(in.Text)
	if text == "" {
		return "", false, nil
	}
	if len(text) > ttsMaxTextLength {
		text = text[:ttsMaxTextLength]
	}

	voice := t.c.resolveVoice(userID, in.Voice)
	audio, format, err := t.c.synthesize(ctx, synthesizeRequest{
		Text: text, Voice: voice, Style: in.Style, Rate: in.Rate, Pitch: in.Pitch, Format: in.Format,
	})
	if err != nil {
		return "", false, err
	}

	size := t.c.queue.enqueue(VoiceClip{UserID: userID, Audio: audio, Format: format, EnqueuedAt: time.Now()})
	if t.c.bus != nil {
		t.c.bus.Publish(event.Event{Type: event.VoiceEnqueued, Data: event.VoiceEnqueuedData{UserID: userID, QueueSize: size}})
	}
	return "", false, nil
}

// TTSListVoicesTool implements tts_list_voices.
type TTSListVoicesTool struct{ c *ttsClient }

// NewTTSListVoicesTool builds the list-voices tool sharing c.
func NewTTSListVoicesTool(c *ttsClient) *TTSListVoicesTool { return &TTSListVoicesTool{c: c} }

func (t *TTSListVoicesTool) Name() string { return "tts_list_voices" }

func (t *TTSListVoicesTool) Definition() *schema.ToolInfo {
	return &schema.ToolInfo{
		Name: "tts_list_voices",
		Desc: "List available text-to-speech voices from the configured provider.",
		ParamsOneOf: schema.NewParamsOneOfByParams(map[string]*schema.ParameterInfo{
			"locale": stringParam("Locale filter, e.g. en-US.", false),
			"limit":  integerParam("Maximum voices to return.", false),
		}),
	}
}

type ttsListVoicesInput struct {
	Locale string `json:"locale"`
	Limit  int    `json:"limit"`
}

type ttsVoicesResponse struct {
	Voices []struct {
		Name   string `json:"name"`
		Locale string `json:"locale"`
	} `json:"voices"`
}

func (t *TTSListVoicesTool) Execute(ctx context.Context, userID int64, argumentsJSON string) (string, bool, error) {
	var in ttsListVoicesInput
	_ = json.Unmarshal([]byte(argumentsJSON), &in)
	if t.c.endpoint == "" {
		return "no tts provider configured", true, nil
	}

	endpoint := strings.TrimSuffix(t.c.endpoint, "/") + "/voices"
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", true, err
	}
	resp, err := t.c.client.Do(req)
	if err != nil {
		return "failed to list voices", true, nil
	}
	defer resp.Body.Close()

	var parsed ttsVoicesResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return "failed to parse voice list", true, nil
	}

	limit := in.Limit
	if limit <= 0 || limit > len(parsed.Voices) {
		limit = len(parsed.Voices)
	}

	var b strings.Builder
	count := 0
	for _, v := range parsed.Voices {
		if in.Locale != "" && v.Locale != in.Locale {
			continue
		}
		if count >= limit {
			break
		}
		fmt.Fprintf(&b, "%s (%s)\n", v.Name, v.Locale)
		count++
	}
	if b.Len() == 0 {
		return "no voices found", true, nil
	}
	return strings.TrimSpace(b.String()), true, nil
}
