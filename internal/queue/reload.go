package queue

import (
	"context"
	"encoding/json"

	"github.com/insightlab/causal/backend/pkg/causal"
	"github.com/insightlab/causal/backend/pkg/logger"

	"github.com/rabbitmq/amqp091-go"
)

type reloader interface {
	Reload(ctx context.Context) (*causal.Graph, error)
}

// ListenForGraphUpdates reloads the graph for every update announcement
// until ctx is done or the delivery channel closes.
func ListenForGraphUpdates(ctx context.Context, msgs <-chan amqp091.Delivery, r reloader) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-msgs:
			if !ok {
				logger.Warn("[Queue] Graph update subscription closed")
				return
			}

			var update GraphUpdatedMessage
			if err := json.Unmarshal(msg.Body, &update); err != nil {
				logger.Warn("[Queue] Ignoring malformed graph update", "err", err)
				continue
			}

			g, err := r.Reload(ctx)
			if err != nil {
				continue
			}
			if g.EdgeCount() != update.Edges || g.NodeCount() != update.Nodes {
				logger.Debug(
					"[Queue] Reloaded graph differs from announced import",
					"revision", update.Revision,
					"nodes", g.NodeCount(),
					"edges", g.EdgeCount(),
				)
			}
		}
	}
}
