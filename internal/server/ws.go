package server

import (
	"net/http"
	"time"

	"github.com/geotiny/seismon/internal/device"
)

const (
	livePushInterval = time.Second
	liveWriteTimeout = 5 * time.Second
)

// livePayload is one websocket frame: the newest window of every
// channel plus device status, pushed once per second.
type livePayload struct {
	DeviceID  string                             `json:"device_id"`
	Status    device.Status                      `json:"status"`
	Channels  map[device.Channel]device.Waveform `json:"channels"`
	Timestamp time.Time                          `json:"timestamp"`
}

// handleLive upgrades to a websocket and streams live waveforms until
// the client goes away.
func (s *Server) handleLive(w http.ResponseWriter, r *http.Request) {
	id := r.URL.Query().Get("device")
	if id == "" {
		writeError(w, http.StatusBadRequest, "device is required", nil)
		return
	}
	if _, ok := s.sup.Device(id); !ok {
		writeError(w, http.StatusNotFound, "unknown device", nil)
		return
	}
	samples, err := intParam(r, "samples", defaultLiveSamples)
	if err != nil || samples <= 0 {
		writeError(w, http.StatusBadRequest, "bad samples parameter", err)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()
	s.log.Debug().Str("device", id).Msg("live stream opened")

	// drain the read side so close frames are processed
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(livePushInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			s.log.Debug().Str("device", id).Msg("live stream closed")
			return
		case <-r.Context().Done():
			return
		case <-ticker.C:
			channels, _ := s.sup.MultiChannelWaveform(id, samples)
			st, _ := s.sup.Device(id)
			payload := livePayload{
				DeviceID:  id,
				Status:    st.Status(),
				Channels:  channels,
				Timestamp: time.Now().UTC(),
			}
			_ = conn.SetWriteDeadline(time.Now().Add(liveWriteTimeout))
			if err := conn.WriteJSON(payload); err != nil {
				s.log.Debug().Err(err).Str("device", id).Msg("live stream write failed")
				return
			}
		}
	}
}
