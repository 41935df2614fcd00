package relay

import (
	"encoding/json"
	"fmt"

	"mattone/internal/models"
)

type CommandType string

const (
	CommandConnected CommandType = "connected"
	CommandHeartbeat CommandType = "heartbeat"
	CommandPlay      CommandType = "m3u"
	CommandStop      CommandType = "stop"
)

// Command is a transient instruction for a device. Only m3u carries fields;
// unknown types are encoded with just their discriminator.
type Command struct {
	Type  CommandType
	URL   string
	Title string
	Logo  string
}

func Connected() Command { return Command{Type: CommandConnected} }
func Heartbeat() Command { return Command{Type: CommandHeartbeat} }
func Stop() Command      { return Command{Type: CommandStop} }

// Play builds the m3u command that tells a device to tune into ch.
func Play(ch *models.Channel) Command {
	return Command{
		Type:  CommandPlay,
		URL:   ch.StreamURL,
		Title: ch.TvgName,
		Logo:  ch.TvgLogo,
	}
}

type playPayload struct {
	Type  CommandType `json:"type"`
	URL   string      `json:"url"`
	Title string      `json:"title"`
	Logo  string      `json:"logo"`
}

type bareCommand struct {
	Type CommandType `json:"type"`
}

func (c Command) MarshalJSON() ([]byte, error) {
	if c.Type == CommandPlay {
		return json.Marshal(playPayload{Type: c.Type, URL: c.URL, Title: c.Title, Logo: c.Logo})
	}
	return json.Marshal(bareCommand{Type: c.Type})
}

func (c *Command) UnmarshalJSON(data []byte) error {
	var p playPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*c = Command{Type: p.Type, URL: p.URL, Title: p.Title, Logo: p.Logo}
	return nil
}

// EventFrame encodes c as one server-sent event: "data: <json>\n\n".
func (c Command) EventFrame() ([]byte, error) {
	data, err := json.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encoding %s command: %w", c.Type, err)
	}
	frame := make([]byte, 0, len(data)+8)
	frame = append(frame, "data: "...)
	frame = append(frame, data...)
	frame = append(frame, '\n', '\n')
	return frame, nil
}
