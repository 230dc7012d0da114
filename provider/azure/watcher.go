package azure

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/spatialkit/anchorsession/provider"
)

type watcher struct {
	session  *session
	ids      []string
	fn       provider.LocateFunc
	interval time.Duration

	stop     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

func (w *watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stop)
	})
	w.wg.Wait()
}

func (w *watcher) run() {
	defer w.wg.Done()
	logger := w.session.provider.logger
	reported := make(map[string]struct{}, len(w.ids))
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()
	for {
		pending := make([]string, 0, len(w.ids))
		for _, id := range w.ids {
			if _, done := reported[id]; !done {
				pending = append(pending, id)
			}
		}
		if len(pending) == 0 {
			return
		}

		ctx, cancel := context.WithTimeout(context.Background(), w.interval*10)
		var out queryResponse
		err := w.session.provider.do(ctx, http.MethodPost, w.session.url("query"), queryRequest{IDs: pending}, &out, http.StatusOK)
		cancel()
		if err != nil {
			logger.Warn().Err(err).Msg("locate query failed")
		} else {
			for _, result := range out.Results {
				if result.AnchorID == "" {
					continue
				}
				if _, done := reported[result.AnchorID]; done {
					continue
				}
				if !result.Found {
					continue
				}
				reported[result.AnchorID] = struct{}{}
				var anchor provider.Anchor
				if !result.Expiration.IsZero() || result.Pose != (poseWire{}) {
					anchor = &cloudAnchor{
						id:         result.AnchorID,
						pose:       poseFromWire(result.Pose),
						expiration: result.Expiration,
					}
				}
				select {
				case <-w.stop:
					return
				default:
				}
				w.fn(result.AnchorID, anchor)
			}
		}

		select {
		case <-w.stop:
			return
		case <-ticker.C:
		}
	}
}
