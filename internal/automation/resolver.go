package automation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"coachflow/pkg/models"
)

type EntityKind string

const (
	EntityLead        EntityKind = "lead"
	EntityAppointment EntityKind = "appointment"
	EntityPayment     EntityKind = "payment"
	EntityCoach       EntityKind = "coach"
)

var (
	ErrUnhandledEvent   = errors.New("no entity route for event")
	ErrMissingReference = errors.New("event has no entity reference")
	ErrEntityNotFound   = errors.New("referenced entity not found")
)

// Route says which entity an event refers to and which payload field
// carries its id.
type Route struct {
	Kind  EntityKind
	Field string
}

type routeEntry struct {
	prefix string
	exact  bool
	route  Route
}

// Checked in order; the first match wins.
var routeTable = []routeEntry{
	{prefix: "lead_", route: Route{EntityLead, "leadId"}},
	{prefix: "funnel_", route: Route{EntityLead, "leadId"}},
	{prefix: "form_submitted", route: Route{EntityLead, "leadId"}},
	{prefix: "content_consumed", route: Route{EntityLead, "leadId"}},
	{prefix: "whatsapp_message_received", route: Route{EntityLead, "leadId"}},
	{prefix: "appointment_", route: Route{EntityAppointment, "appointmentId"}},
	{prefix: "task_", route: Route{EntityAppointment, "appointmentId"}},
	{prefix: "payment_", route: Route{EntityPayment, "paymentId"}},
	{prefix: "invoice_", route: Route{EntityPayment, "paymentId"}},
	{prefix: "subscription_", route: Route{EntityPayment, "paymentId"}},
	{prefix: "card_", route: Route{EntityPayment, "paymentId"}},
	{prefix: "coach.inactive", exact: true, route: Route{EntityCoach, "coachId"}},
}

// RouteFor returns the entity route for eventName.
func RouteFor(eventName string) (Route, bool) {
	for _, entry := range routeTable {
		if entry.exact {
			if eventName == entry.prefix {
				return entry.route, true
			}
			continue
		}
		if strings.HasPrefix(eventName, entry.prefix) {
			return entry.route, true
		}
	}
	return Route{}, false
}

// EntityStore fetches a domain document by primary key. A missing document
// is (nil, nil).
type EntityStore interface {
	FindByID(ctx context.Context, kind EntityKind, id string) (map[string]interface{}, error)
}

type Resolver struct {
	store EntityStore
}

func NewResolver(store EntityStore) *Resolver {
	return &Resolver{store: store}
}

type Resolution struct {
	Route    Route
	ID       string
	Document map[string]interface{}
}

// Resolve fetches the entity eventName refers to. It returns
// ErrUnhandledEvent, ErrMissingReference or ErrEntityNotFound for events
// that should be dropped, and any other error for store failures.
func (r *Resolver) Resolve(ctx context.Context, eventName string, event models.RawEvent) (*Resolution, error) {
	route, ok := RouteFor(eventName)
	if !ok {
		return nil, ErrUnhandledEvent
	}

	id, ok := event.Reference(route.Field)
	if !ok {
		return &Resolution{Route: route}, ErrMissingReference
	}

	doc, err := r.store.FindByID(ctx, route.Kind, id)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch %s %s: %w", route.Kind, id, err)
	}

	res := &Resolution{Route: route, ID: id, Document: doc}
	if doc == nil {
		return res, ErrEntityNotFound
	}
	return res, nil
}
