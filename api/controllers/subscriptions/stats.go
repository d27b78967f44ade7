package subscriptions

import (
	"net/http"
	"time"

	"github.com/vidorahq/vidora-billing/api/responses"
	subsvc "github.com/vidorahq/vidora-billing/internal/subscriptions"
	pkgerrors "github.com/vidorahq/vidora-billing/pkg/errors"
	"github.com/vidorahq/vidora-billing/pkg/logger"
)

// MRRStats reports monthly recurring revenue per currency plus the current
// month's churn.
func MRRStats(stats *subsvc.Stats, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if stats == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stats unavailable"))
			return
		}

		summary, err := stats.Summarize(r.Context(), time.Now().UTC())
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, summary)
	}
}
