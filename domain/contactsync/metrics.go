package contactsync

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var syncTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "tether_contact_sync_identifiers_total",
	Help: "Contact sync outcomes per identifier or edge",
}, []string{"outcome"})
