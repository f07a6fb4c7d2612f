package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	domain "github.com/cafeatonce/commerce-api/internal/domain"
	pfirestore "github.com/cafeatonce/commerce-api/internal/platform/firestore"
	"github.com/cafeatonce/commerce-api/internal/repositories"
)

const reservationsCollection = "stockReservations"

type stockReservationDocument struct {
	UserID    string               `firestore:"userId,omitempty"`
	OrderRef  string               `firestore:"orderRef,omitempty"`
	Status    string               `firestore:"status"`
	Lines     []reservationLineDoc `firestore:"lines"`
	Reason    string               `firestore:"reason,omitempty"`
	ExpiresAt time.Time            `firestore:"expiresAt"`
	CreatedAt time.Time            `firestore:"createdAt"`
	UpdatedAt time.Time            `firestore:"updatedAt"`
}

type reservationLineDoc struct {
	ProductID string `firestore:"productId"`
	Quantity  int64  `firestore:"qty"`
}

func newStockReservationDocument(res domain.Reservation) stockReservationDocument {
	lines := make([]reservationLineDoc, len(res.Lines))
	for i, line := range res.Lines {
		lines[i] = reservationLineDoc{
			ProductID: strings.TrimSpace(line.ProductID),
			Quantity:  line.Quantity,
		}
	}
	return stockReservationDocument{
		UserID:    strings.TrimSpace(res.UserID),
		OrderRef:  strings.TrimSpace(res.OrderRef),
		Status:    string(res.Status),
		Lines:     lines,
		ExpiresAt: res.ExpiresAt.UTC(),
		CreatedAt: res.CreatedAt.UTC(),
	}
}

func (d stockReservationDocument) toDomain(id string) domain.Reservation {
	lines := make([]domain.ReservationLine, len(d.Lines))
	for i, line := range d.Lines {
		lines[i] = domain.ReservationLine{
			ProductID: strings.TrimSpace(line.ProductID),
			Quantity:  line.Quantity,
		}
	}
	return domain.Reservation{
		ID:        id,
		UserID:    strings.TrimSpace(d.UserID),
		OrderRef:  strings.TrimSpace(d.OrderRef),
		Status:    domain.ReservationStatus(d.Status),
		Lines:     lines,
		ExpiresAt: d.ExpiresAt,
		CreatedAt: d.CreatedAt,
	}
}

// StockRepository manages stock counters on product documents together with
// the reservation lifecycle. All multi-document moves run in transactions so
// a reservation is either fully placed or not at all. Firestore transactions
// reject any read issued after a write, so every transaction here batches its
// product reads through a single GetAll before touching a document.
type StockRepository struct {
	provider     *pfirestore.Provider
	products     *pfirestore.BaseRepository[productDocument]
	reservations *pfirestore.BaseRepository[stockReservationDocument]
	orders       *pfirestore.BaseRepository[orderDocument]
}

// NewStockRepository constructs a Firestore-backed stock repository.
func NewStockRepository(provider *pfirestore.Provider) (*StockRepository, error) {
	if provider == nil {
		return nil, errors.New("stock repository requires firestore provider")
	}
	return &StockRepository{
		provider:     provider,
		products:     pfirestore.NewBaseRepository[productDocument](provider, productsCollection, nil),
		reservations: pfirestore.NewBaseRepository[stockReservationDocument](provider, reservationsCollection, nil),
		orders:       pfirestore.NewBaseRepository[orderDocument](provider, ordersCollection, nil),
	}, nil
}

// Reserve places holds for every line or nothing at all.
func (r *StockRepository) Reserve(ctx context.Context, req repositories.StockReserveRequest) (domain.Reservation, error) {
	if r == nil || r.provider == nil {
		return domain.Reservation{}, errors.New("stock repository not initialised")
	}
	reservation := req.Reservation
	if strings.TrimSpace(reservation.ID) == "" {
		return domain.Reservation{}, errors.New("stock reserve: reservation id is required")
	}
	if len(reservation.Lines) == 0 {
		return domain.Reservation{}, errors.New("stock reserve: at least one line is required")
	}

	now := req.Now.UTC()
	reservation.Status = domain.ReservationActive
	if reservation.CreatedAt.IsZero() {
		reservation.CreatedAt = now
	}

	resDoc := newStockReservationDocument(reservation)
	resDoc.UpdatedAt = now

	var created domain.Reservation
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		resRef, err := r.reservations.DocumentRef(ctx, reservation.ID)
		if err != nil {
			return err
		}
		if _, err := tx.Get(resRef); err == nil {
			return repositories.NewStockError(repositories.StockErrorInvalidReservationState, fmt.Sprintf("reservation %s already exists", reservation.ID), nil)
		} else if status.Code(err) != codes.NotFound {
			return err
		}

		refs, docs, err := r.getProducts(ctx, tx, lineProductIDs(resDoc.Lines))
		if err != nil {
			return err
		}
		if err := reserveStock(docs, resDoc.Lines, now); err != nil {
			return err
		}
		for i := range refs {
			if err := tx.Set(refs[i], docs[i]); err != nil {
				return err
			}
		}

		if err := tx.Create(resRef, resDoc); err != nil {
			if status.Code(err) == codes.AlreadyExists {
				return repositories.NewStockError(repositories.StockErrorInvalidReservationState, fmt.Sprintf("reservation %s already exists", reservation.ID), err)
			}
			return err
		}

		created = resDoc.toDomain(reservation.ID)
		return nil
	})
	if err != nil {
		return domain.Reservation{}, wrapStockError("stock.reserve", err)
	}
	return created, nil
}

// Commit finalises an active reservation into an on-hand decrement.
func (r *StockRepository) Commit(ctx context.Context, req repositories.StockCommitRequest) error {
	if r == nil || r.provider == nil {
		return errors.New("stock repository not initialised")
	}
	reservationID := strings.TrimSpace(req.ReservationID)
	if reservationID == "" {
		return errors.New("stock commit: reservation id is required")
	}

	now := req.Now.UTC()
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		resRef, resDoc, err := r.getReservation(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		if resDoc.Status != string(domain.ReservationActive) {
			return repositories.NewStockError(repositories.StockErrorInvalidReservationState, fmt.Sprintf("reservation %s is not active", reservationID), nil)
		}

		refs, docs, err := r.getProducts(ctx, tx, lineProductIDs(resDoc.Lines))
		if err != nil {
			return err
		}
		if err := commitStock(docs, resDoc.Lines, reservationID, now); err != nil {
			return err
		}
		for i := range refs {
			if err := tx.Set(refs[i], docs[i]); err != nil {
				return err
			}
		}

		resDoc.Status = string(domain.ReservationCommitted)
		if orderRef := strings.TrimSpace(req.OrderRef); orderRef != "" {
			resDoc.OrderRef = orderRef
		}
		resDoc.UpdatedAt = now
		return tx.Set(resRef, resDoc)
	})
	return wrapStockError("stock.commit", err)
}

// Release returns reserved quantities to availability.
func (r *StockRepository) Release(ctx context.Context, req repositories.StockReleaseRequest) error {
	if r == nil || r.provider == nil {
		return errors.New("stock repository not initialised")
	}
	reservationID := strings.TrimSpace(req.ReservationID)
	if reservationID == "" {
		return errors.New("stock release: reservation id is required")
	}
	return wrapStockError("stock.release", r.releaseTx(ctx, reservationID, req.Reason, req.Now.UTC()))
}

func (r *StockRepository) releaseTx(ctx context.Context, reservationID, reason string, now time.Time) error {
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		resRef, resDoc, err := r.getReservation(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		if resDoc.Status != string(domain.ReservationActive) {
			return repositories.NewStockError(repositories.StockErrorInvalidReservationState, fmt.Sprintf("reservation %s is not active", reservationID), nil)
		}

		refs, docs, err := r.getProducts(ctx, tx, lineProductIDs(resDoc.Lines))
		if err != nil {
			return err
		}
		if err := releaseStock(docs, resDoc.Lines, reservationID, now); err != nil {
			return err
		}
		for i := range refs {
			if err := tx.Set(refs[i], docs[i]); err != nil {
				return err
			}
		}

		resDoc.Status = string(domain.ReservationReleased)
		resDoc.Reason = strings.TrimSpace(reason)
		resDoc.UpdatedAt = now
		return tx.Set(resRef, resDoc)
	})
}

// Restock adds quantities back to on-hand stock after a cancellation.
func (r *StockRepository) Restock(ctx context.Context, lines []domain.ReservationLine, now time.Time) error {
	if r == nil || r.provider == nil {
		return errors.New("stock repository not initialised")
	}

	valid := make([]reservationLineDoc, 0, len(lines))
	for _, line := range lines {
		productID := strings.TrimSpace(line.ProductID)
		if productID == "" || line.Quantity <= 0 {
			continue
		}
		valid = append(valid, reservationLineDoc{ProductID: productID, Quantity: line.Quantity})
	}
	if len(valid) == 0 {
		return nil
	}

	at := now.UTC()
	err := r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		refs, docs, err := r.getProducts(ctx, tx, lineProductIDs(valid))
		if err != nil {
			return err
		}
		for i, line := range valid {
			docs[i].Stock += line.Quantity
			docs[i].Available = docs[i].Stock - docs[i].Reserved
			docs[i].UpdatedAt = at
		}
		for i := range refs {
			if err := tx.Set(refs[i], docs[i]); err != nil {
				return err
			}
		}
		return nil
	})
	return wrapStockError("stock.restock", err)
}

// FindReservation loads a reservation by ID.
func (r *StockRepository) FindReservation(ctx context.Context, reservationID string) (domain.Reservation, error) {
	if r == nil || r.reservations == nil {
		return domain.Reservation{}, errors.New("stock repository not initialised")
	}
	id := strings.TrimSpace(reservationID)
	if id == "" {
		return domain.Reservation{}, errors.New("stock repository: reservation id is required")
	}

	doc, err := r.reservations.Get(ctx, id)
	if err != nil {
		var repoErr *pfirestore.Error
		if errors.As(err, &repoErr) && repoErr.IsNotFound() {
			return domain.Reservation{}, repositories.NewStockError(repositories.StockErrorReservationNotFound, fmt.Sprintf("reservation %s not found", id), err)
		}
		return domain.Reservation{}, wrapStockError("stock.findReservation", err)
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ReleaseExpired sweeps active reservations past their expiry and reports how
// many were settled. A hold whose order document landed is committed rather
// than released; everything else goes back to availability. Reservations that
// flip state between the query and the settling transaction are skipped.
func (r *StockRepository) ReleaseExpired(ctx context.Context, now time.Time, limit int) (int, error) {
	if r == nil || r.reservations == nil {
		return 0, errors.New("stock repository not initialised")
	}
	if limit <= 0 {
		limit = 100
	}

	at := now.UTC()
	docs, err := r.reservations.Query(ctx, func(query firestore.Query) firestore.Query {
		return query.Where("status", "==", string(domain.ReservationActive)).
			Where("expiresAt", "<=", at).
			Limit(limit)
	})
	if err != nil {
		return 0, wrapStockError("stock.releaseExpired", err)
	}

	settled := 0
	for _, doc := range docs {
		err := r.resolveExpiredTx(ctx, doc.ID, at)
		if err != nil {
			var stockErr *repositories.StockError
			if errors.As(err, &stockErr) && stockErr.Code == repositories.StockErrorInvalidReservationState {
				continue
			}
			return settled, wrapStockError("stock.releaseExpired", err)
		}
		settled++
	}
	return settled, nil
}

// resolveExpiredTx settles one expired reservation. A reservation whose
// order reference resolves to a persisted order is a checkout that crashed
// between the order insert and the stock commit; the missed commit is
// applied instead of handing the consumed stock back.
func (r *StockRepository) resolveExpiredTx(ctx context.Context, reservationID string, now time.Time) error {
	return r.provider.RunTransaction(ctx, func(ctx context.Context, tx *firestore.Transaction) error {
		resRef, resDoc, err := r.getReservation(ctx, tx, reservationID)
		if err != nil {
			return err
		}
		if resDoc.Status != string(domain.ReservationActive) {
			return repositories.NewStockError(repositories.StockErrorInvalidReservationState, fmt.Sprintf("reservation %s is not active", reservationID), nil)
		}

		orderExists := false
		if orderRef := strings.TrimSpace(resDoc.OrderRef); orderRef != "" {
			ref, err := r.orders.DocumentRef(ctx, orderRef)
			if err != nil {
				return err
			}
			snap, err := tx.Get(ref)
			if err != nil && status.Code(err) != codes.NotFound {
				return err
			}
			orderExists = err == nil && snap.Exists()
		}

		refs, docs, err := r.getProducts(ctx, tx, lineProductIDs(resDoc.Lines))
		if err != nil {
			return err
		}
		if orderExists {
			if err := commitStock(docs, resDoc.Lines, reservationID, now); err != nil {
				return err
			}
			resDoc.Status = string(domain.ReservationCommitted)
		} else {
			if err := releaseStock(docs, resDoc.Lines, reservationID, now); err != nil {
				return err
			}
			resDoc.Status = string(domain.ReservationReleased)
			resDoc.Reason = "expired"
		}
		for i := range refs {
			if err := tx.Set(refs[i], docs[i]); err != nil {
				return err
			}
		}

		resDoc.UpdatedAt = now
		return tx.Set(resRef, resDoc)
	})
}

// getProducts resolves and reads every product in one batched GetAll so the
// transaction performs no read after its first write.
func (r *StockRepository) getProducts(ctx context.Context, tx *firestore.Transaction, productIDs []string) ([]*firestore.DocumentRef, []productDocument, error) {
	refs := make([]*firestore.DocumentRef, len(productIDs))
	for i, productID := range productIDs {
		if productID == "" {
			return nil, nil, repositories.NewStockError(repositories.StockErrorProductNotFound, "stock: product id is required", nil)
		}
		ref, err := r.products.DocumentRef(ctx, productID)
		if err != nil {
			return nil, nil, err
		}
		refs[i] = ref
	}

	snaps, err := tx.GetAll(refs)
	if err != nil {
		return nil, nil, err
	}
	docs := make([]productDocument, len(snaps))
	for i, snap := range snaps {
		if !snap.Exists() {
			return nil, nil, &repositories.StockError{
				Code:      repositories.StockErrorProductNotFound,
				ProductID: productIDs[i],
				Message:   fmt.Sprintf("product %s not found", productIDs[i]),
			}
		}
		if err := snap.DataTo(&docs[i]); err != nil {
			return nil, nil, fmt.Errorf("decode product %s: %w", productIDs[i], err)
		}
	}
	return refs, docs, nil
}

func (r *StockRepository) getReservation(ctx context.Context, tx *firestore.Transaction, reservationID string) (*firestore.DocumentRef, stockReservationDocument, error) {
	ref, err := r.reservations.DocumentRef(ctx, reservationID)
	if err != nil {
		return nil, stockReservationDocument{}, err
	}
	snap, err := tx.Get(ref)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, stockReservationDocument{}, repositories.NewStockError(repositories.StockErrorReservationNotFound, fmt.Sprintf("reservation %s not found", reservationID), err)
		}
		return nil, stockReservationDocument{}, err
	}
	var doc stockReservationDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, stockReservationDocument{}, fmt.Errorf("decode reservation %s: %w", reservationID, err)
	}
	return ref, doc, nil
}

func lineProductIDs(lines []reservationLineDoc) []string {
	ids := make([]string, len(lines))
	for i, line := range lines {
		ids[i] = strings.TrimSpace(line.ProductID)
	}
	return ids
}

// reserveStock increments reserved counters in memory, failing on the first
// line the available balance cannot cover. docs is parallel to lines.
func reserveStock(docs []productDocument, lines []reservationLineDoc, now time.Time) error {
	for i, line := range lines {
		available := docs[i].Stock - docs[i].Reserved
		if available < line.Quantity {
			return &repositories.StockError{
				Code:        repositories.StockErrorInsufficient,
				ProductID:   line.ProductID,
				ProductName: docs[i].Name,
				Message:     fmt.Sprintf("insufficient stock for %s", line.ProductID),
			}
		}
		docs[i].Reserved += line.Quantity
		docs[i].Available = docs[i].Stock - docs[i].Reserved
		docs[i].UpdatedAt = now
	}
	return nil
}

// commitStock converts held quantities into an on-hand decrement.
func commitStock(docs []productDocument, lines []reservationLineDoc, reservationID string, now time.Time) error {
	for i, line := range lines {
		if docs[i].Reserved < line.Quantity || docs[i].Stock < line.Quantity {
			return repositories.NewStockError(repositories.StockErrorInvalidReservationState, fmt.Sprintf("stock counters for %s are out of step with reservation %s", line.ProductID, reservationID), nil)
		}
		docs[i].Reserved -= line.Quantity
		docs[i].Stock -= line.Quantity
		docs[i].Available = docs[i].Stock - docs[i].Reserved
		docs[i].UpdatedAt = now
	}
	return nil
}

// releaseStock hands held quantities back to availability.
func releaseStock(docs []productDocument, lines []reservationLineDoc, reservationID string, now time.Time) error {
	for i, line := range lines {
		if docs[i].Reserved < line.Quantity {
			return repositories.NewStockError(repositories.StockErrorInvalidReservationState, fmt.Sprintf("reserved count for %s is below reservation %s", line.ProductID, reservationID), nil)
		}
		docs[i].Reserved -= line.Quantity
		docs[i].Available = docs[i].Stock - docs[i].Reserved
		docs[i].UpdatedAt = now
	}
	return nil
}

func wrapStockError(op string, err error) error {
	if err == nil {
		return nil
	}
	var stockErr *repositories.StockError
	if errors.As(err, &stockErr) {
		if stockErr.Op == "" {
			stockErr.Op = op
		}
		return stockErr
	}
	return pfirestore.WrapError(op, err)
}

var _ repositories.StockRepository = (*StockRepository)(nil)
