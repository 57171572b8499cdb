package events

import "github.com/dealmoa/deal-crawler/internal/domain/models"

var DealReconciledTopic = "DealReconciledEvent"

type DealReconciled struct {
	Deal    models.DealRecord
	Outcome models.Outcome
}
