package order

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/MikeMC777/tienda-ordenes/internal/metrics"
)

const (
	channelCheckout  = "checkout"
	channelAdminSale = "admin_sale"
)

type Service struct {
	repo    Repository
	cache   Cache
	log     *zap.Logger
	metrics *metrics.Collectors
	tracer  trace.Tracer
}

type Option func(*Service)

func WithCache(c Cache) Option { return func(s *Service) { s.cache = c } }

func WithLogger(l *zap.Logger) Option { return func(s *Service) { s.log = l } }

func WithMetrics(m *metrics.Collectors) Option { return func(s *Service) { s.metrics = m } }

func NewService(repo Repository, opts ...Option) *Service {
	s := &Service{
		repo:   repo,
		log:    zap.NewNop(),
		tracer: otel.Tracer("github.com/MikeMC777/tienda-ordenes/internal/order"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrder validates in, recomputes the total from the items and persists
// the order with its items atomically. Any client-supplied total is ignored.
func (s *Service) CreateOrder(ctx context.Context, in CreateOrderInput) (_ *Order, err error) {
	ctx, span := s.tracer.Start(ctx, "order.Create")
	defer func() { endSpan(span, err) }()

	if err := ValidateCreate(in); err != nil {
		return nil, err
	}
	address, _ := ResolveShippingAddress(in.ShippingMethod, in.ShippingAddress, in.AgencyAddress)
	total := ComputeTotal(in.Items)

	if in.ClientTotal != nil && !in.ClientTotal.Equal(total) {
		s.log.Info("client total discarded",
			zap.String("client_total", in.ClientTotal.String()),
			zap.String("total", total.StringFixed(2)),
		)
	}

	o := &Order{
		ID:              uuid.NewString(),
		Status:          StatusPending,
		TotalAmount:     total,
		ShippingAddress: address,
		ShippingMethod:  in.ShippingMethod,
		PaymentMethod:   in.PaymentMethod,
		WhatsappNumber:  optionalString(in.WhatsappNumber),
		OrderNotes:      optionalString(in.OrderNotes),
	}
	if in.ShippingMethod == ShippingMRW || in.ShippingMethod == ShippingZoom {
		o.AgencyAddress = optionalString(strings.TrimSpace(in.AgencyAddress))
	}

	channel := channelCheckout
	switch c := in.Customer.(type) {
	case Registered:
		o.UserID = optionalString(c.UserID)
	case Guest:
		channel = channelAdminSale
		o.CustomerFirstName = optionalString(strings.TrimSpace(c.FirstName))
		o.CustomerLastName = optionalString(strings.TrimSpace(c.LastName))
		o.CustomerPhone = optionalString(strings.TrimSpace(c.Phone))
		o.CustomerEmail = optionalString(strings.TrimSpace(c.Email))
		o.CustomerDNI = optionalString(strings.TrimSpace(c.DNI))
	}
	span.SetAttributes(attribute.String("order.id", o.ID), attribute.String("order.channel", channel))

	items := make([]Item, 0, len(in.Items))
	for _, it := range in.Items {
		items = append(items, Item{
			ID:        uuid.NewString(),
			OrderID:   o.ID,
			ProductID: it.ProductID,
			VariantID: optionalString(it.VariantID),
			Quantity:  it.Quantity,
			Price:     it.Price,
		})
	}

	created, replayed, err := s.repo.CreateOrderWithItems(ctx, o, items, strings.TrimSpace(in.IdempotencyKey))
	if err != nil {
		s.log.Warn("create order failed", zap.String("channel", channel), zap.Error(err))
		return nil, err
	}
	if replayed {
		s.log.Info("idempotent replay", zap.String("order_id", created.ID))
		return created, nil
	}

	s.metrics.OrderCreated(channel)
	s.log.Info("order created",
		zap.String("order_id", created.ID),
		zap.String("channel", channel),
		zap.String("total_amount", created.TotalAmount.StringFixed(2)),
		zap.Int("items", len(items)),
	)
	return created, nil
}

// TransitionOrder moves an order along the lifecycle. expected, when set,
// must match the current status. Moving to delivered adjusts stock in the
// same transaction; retrying that call fails with ErrInvalidTransition and
// never adjusts twice.
func (s *Service) TransitionOrder(ctx context.Context, id string, target Status, expected *Status) (_ *Order, err error) {
	ctx, span := s.tracer.Start(ctx, "order.Transition",
		trace.WithAttributes(attribute.String("order.id", id), attribute.String("order.target", string(target))))
	defer func() { endSpan(span, err) }()

	if !target.Valid() {
		return nil, validationf("unknown status %q", target)
	}
	if expected != nil && !expected.Valid() {
		return nil, validationf("unknown expected status %q", *expected)
	}
	if _, perr := uuid.Parse(id); perr != nil {
		return nil, notFoundf("order %s", id)
	}

	current, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if expected != nil && *expected != current.Status {
		s.metrics.Transition(string(current.Status), string(target), "rejected")
		return nil, fmt.Errorf("%w: expected status %s but was %s", ErrInvalidTransition, *expected, current.Status)
	}
	if err := checkTransition(current.Status, target); err != nil {
		s.metrics.Transition(string(current.Status), string(target), "rejected")
		return nil, err
	}

	updated, err := s.repo.Transition(ctx, id, current.Status, target)
	if err != nil {
		s.metrics.Transition(string(current.Status), string(target), KindOf(err))
		s.log.Warn("transition failed",
			zap.String("order_id", id),
			zap.String("from", string(current.Status)),
			zap.String("to", string(target)),
			zap.Error(err),
		)
		return nil, err
	}

	s.metrics.Transition(string(current.Status), string(target), "ok")
	s.log.Info("order transitioned",
		zap.String("order_id", id),
		zap.String("from", string(current.Status)),
		zap.String("to", string(target)),
	)
	if s.cache != nil {
		if cerr := s.cache.Invalidate(ctx, id); cerr != nil {
			s.log.Warn("order cache invalidation failed", zap.String("order_id", id), zap.Error(cerr))
		}
	}
	return updated, nil
}

// GetOrder returns an order with its items. Customers may only read their
// own orders; admins read any.
func (s *Service) GetOrder(ctx context.Context, id string, who Identity) (_ *OrderWithItems, err error) {
	ctx, span := s.tracer.Start(ctx, "order.Get", trace.WithAttributes(attribute.String("order.id", id)))
	defer func() { endSpan(span, err) }()

	if !who.Admin && strings.TrimSpace(who.UserID) == "" {
		return nil, fmt.Errorf("%w: identity required", ErrAuthorization)
	}
	if _, perr := uuid.Parse(id); perr != nil {
		return nil, notFoundf("order %s", id)
	}

	if s.cache != nil {
		cached, ok, cerr := s.cache.Get(ctx, id)
		if cerr != nil {
			s.log.Warn("order cache read failed", zap.String("order_id", id), zap.Error(cerr))
		}
		if ok {
			if err := authorize(cached.Order, who); err != nil {
				return nil, err
			}
			return cached, nil
		}
	}

	o, err := s.repo.GetWithItems(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := authorize(o.Order, who); err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.fill(ctx, o)
	}
	return o, nil
}

// fill caches o and drops the entry again when the row changed after o was
// read, which covers a transition that invalidated before the write landed.
func (s *Service) fill(ctx context.Context, o *OrderWithItems) {
	if err := s.cache.Set(ctx, o); err != nil {
		s.log.Warn("order cache write failed", zap.String("order_id", o.ID), zap.Error(err))
		return
	}
	current, err := s.repo.GetByID(ctx, o.ID)
	if err == nil && current.Status == o.Status && current.UpdatedAt.Equal(o.UpdatedAt) {
		return
	}
	if cerr := s.cache.Invalidate(ctx, o.ID); cerr != nil {
		s.log.Warn("order cache invalidation failed", zap.String("order_id", o.ID), zap.Error(cerr))
	}
}

// ListOrders lists orders newest first. A customer's listing is always
// restricted to their own orders regardless of f.UserID.
func (s *Service) ListOrders(ctx context.Context, who Identity, f ListFilter) (_ []OrderWithProfile, err error) {
	ctx, span := s.tracer.Start(ctx, "order.List")
	defer func() { endSpan(span, err) }()

	if f.Status != nil && !f.Status.Valid() {
		return nil, validationf("unknown status %q", *f.Status)
	}
	if !who.Admin {
		if strings.TrimSpace(who.UserID) == "" {
			return nil, fmt.Errorf("%w: identity required", ErrAuthorization)
		}
		uid := who.UserID
		f.UserID = &uid
	}
	if f.UserID != nil {
		if _, perr := uuid.Parse(*f.UserID); perr != nil {
			return nil, validationf("user_id must be a uuid")
		}
	}
	return s.repo.List(ctx, f)
}

func authorize(o Order, who Identity) error {
	if who.Admin {
		return nil
	}
	if o.UserID == nil || *o.UserID != who.UserID {
		return fmt.Errorf("%w: order %s belongs to another customer", ErrAuthorization, o.ID)
	}
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, KindOf(err))
	}
	span.End()
}

func optionalString(v string) *string {
	if v == "" {
		return nil
	}
	ref := v
	return &ref
}
