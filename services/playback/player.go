package playback

import "log"

// Player is the command side of the media player boundary. Commands are
// synchronous; their effects arrive later as progress events through the
// EventBridge.
type Player interface {
	// Seek repositions the player within the current playlist.
	// The time is session-relative.
	Seek(relative float64)
	Play()
	Pause()
	// Load points the player at a new playlist URL. Called whenever a
	// session is created or recreated.
	Load(playlistURL string)
}

// LogPlayer is a Player that only logs the commands it receives. It stands in
// for a real player binding in the daemon harness and in tests.
type LogPlayer struct{}

func (LogPlayer) Seek(relative float64) {
	log.Printf("[player] seek to %.3fs (relative)", relative)
}

func (LogPlayer) Play()  { log.Printf("[player] play") }
func (LogPlayer) Pause() { log.Printf("[player] pause") }

func (LogPlayer) Load(playlistURL string) {
	log.Printf("[player] load playlist %s", playlistURL)
}

// PlayerError is a player-reported error, identified by a domain and code the
// way AVFoundation surfaces decode failures.
type PlayerError struct {
	Domain  string
	Code    int
	Message string
}

func (e PlayerError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return e.Domain
}

const (
	// fatalStreamErrorDomain/Code identify the stale-decoder failure seen
	// after the server falls back from HDR to SDR mid-stream and changes
	// codec parameters. This signature is recoverable by recreating the
	// session at the current position.
	fatalStreamErrorDomain = "CoreMediaErrorDomain"
	fatalStreamErrorCode   = -12848
)

// IsRecoverableStreamError reports whether a player error matches the known
// stale-decoder signature that a fresh session can clear.
func IsRecoverableStreamError(err PlayerError) bool {
	return err.Domain == fatalStreamErrorDomain && err.Code == fatalStreamErrorCode
}
