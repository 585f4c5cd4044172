package controllers

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/angelmondragon/payment-ledger/internal/payments"
	"github.com/angelmondragon/payment-ledger/pkg/db/models"
	"github.com/angelmondragon/payment-ledger/pkg/enums"
	pkgerrors "github.com/angelmondragon/payment-ledger/pkg/errors"
)

type stubPaymentService struct {
	createFn  func(ctx context.Context, input payments.CreatePaymentInput) (*models.Payment, error)
	getFn     func(ctx context.Context, id uuid.UUID) (*models.Payment, error)
	pendingFn func(ctx context.Context, userID uuid.UUID) ([]models.Payment, error)
	totalFn   func(ctx context.Context, userID uuid.UUID) (int64, error)
	nextFn    func(ctx context.Context, userID uuid.UUID) (*payments.NextPaymentDue, error)
}

func (s stubPaymentService) CreatePayment(ctx context.Context, input payments.CreatePaymentInput) (*models.Payment, error) {
	return s.createFn(ctx, input)
}

func (s stubPaymentService) GetPayment(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
	return s.getFn(ctx, id)
}

func (s stubPaymentService) GetUserPendingPayments(ctx context.Context, userID uuid.UUID) ([]models.Payment, error) {
	return s.pendingFn(ctx, userID)
}

func (s stubPaymentService) GetUserTotalPendingAmount(ctx context.Context, userID uuid.UUID) (int64, error) {
	return s.totalFn(ctx, userID)
}

func (s stubPaymentService) GetUserNextPaymentDue(ctx context.Context, userID uuid.UUID) (*payments.NextPaymentDue, error) {
	return s.nextFn(ctx, userID)
}

func TestPaymentCreateConvertsAmount(t *testing.T) {
	userID := uuid.New()
	orderID := uuid.New()
	var captured payments.CreatePaymentInput
	svc := stubPaymentService{
		createFn: func(ctx context.Context, input payments.CreatePaymentInput) (*models.Payment, error) {
			captured = input
			return &models.Payment{
				ID:               uuid.New(),
				UserID:           input.UserID,
				OrderID:          input.OrderID,
				TotalAmountCents: input.TotalCents,
				AmountDueCents:   input.TotalCents,
				PlanType:         input.PlanType,
				Status:           enums.PaymentStatusPending,
			}, nil
		},
	}

	body := `{"order_id":"` + orderID.String() + `","service_name":"Lawn care","service_type":"garden","total_amount":"150.25"}`
	req := authedRequest(http.MethodPost, "/api/v1/payments", body, userID, enums.RoleUser, nil)
	resp := httptest.NewRecorder()
	PaymentCreate(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusCreated {
		t.Fatalf("expected 201 got %d (%s)", resp.Code, resp.Body.String())
	}
	if captured.TotalCents != 15025 {
		t.Fatalf("expected 15025 cents, got %d", captured.TotalCents)
	}
	if captured.UserID != userID || captured.OrderID != orderID {
		t.Fatalf("unexpected ids %+v", captured)
	}
	if captured.PlanType != enums.PaymentPlanOneTime {
		t.Fatalf("expected default plan one_time, got %s", captured.PlanType)
	}
	if captured.ActorID == nil || *captured.ActorID != userID {
		t.Fatalf("expected caller as actor")
	}

	var view payments.PaymentView
	decodeData(t, resp, &view)
	if view.TotalAmount.String() != "150.25" {
		t.Fatalf("expected total 150.25, got %s", view.TotalAmount)
	}
}

func TestPaymentCreateRejectsSubCentAmount(t *testing.T) {
	svc := stubPaymentService{
		createFn: func(ctx context.Context, input payments.CreatePaymentInput) (*models.Payment, error) {
			t.Fatal("service should not be called")
			return nil, nil
		},
	}
	body := `{"order_id":"` + uuid.NewString() + `","service_name":"x","total_amount":"10.005"}`
	req := authedRequest(http.MethodPost, "/api/v1/payments", body, uuid.New(), enums.RoleUser, nil)
	resp := httptest.NewRecorder()
	PaymentCreate(svc, nil).ServeHTTP(resp, req)

	if resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 got %d", resp.Code)
	}
	if code := decodeErrorCode(t, resp); code != string(pkgerrors.CodeValidation) {
		t.Fatalf("unexpected code %s", code)
	}
}

func TestPaymentCreateRequiresCaller(t *testing.T) {
	req := authedRequest(http.MethodPost, "/api/v1/payments", `{}`, uuid.Nil, "", nil)
	resp := httptest.NewRecorder()
	PaymentCreate(stubPaymentService{}, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 got %d", resp.Code)
	}
}

func TestPaymentGetHidesOtherUsersPayments(t *testing.T) {
	owner := uuid.New()
	paymentID := uuid.New()
	svc := stubPaymentService{
		getFn: func(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
			return &models.Payment{ID: id, UserID: owner, Status: enums.PaymentStatusPending}, nil
		},
	}
	params := map[string]string{"paymentId": paymentID.String()}

	resp := httptest.NewRecorder()
	PaymentGet(svc, nil).ServeHTTP(resp, authedRequest(http.MethodGet, "/", "", owner, enums.RoleUser, params))
	if resp.Code != http.StatusOK {
		t.Fatalf("owner expected 200 got %d", resp.Code)
	}

	resp = httptest.NewRecorder()
	PaymentGet(svc, nil).ServeHTTP(resp, authedRequest(http.MethodGet, "/", "", uuid.New(), enums.RoleUser, params))
	if resp.Code != http.StatusNotFound {
		t.Fatalf("stranger expected 404 got %d", resp.Code)
	}
}

func TestPaymentGetPropagatesNotFound(t *testing.T) {
	svc := stubPaymentService{
		getFn: func(ctx context.Context, id uuid.UUID) (*models.Payment, error) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "payment not found")
		},
	}
	resp := httptest.NewRecorder()
	req := authedRequest(http.MethodGet, "/", "", uuid.New(), enums.RoleUser, map[string]string{"paymentId": uuid.NewString()})
	PaymentGet(svc, nil).ServeHTTP(resp, req)
	if resp.Code != http.StatusNotFound {
		t.Fatalf("expected 404 got %d", resp.Code)
	}
}

func TestPaymentPendingTotalAndNextDue(t *testing.T) {
	userID := uuid.New()
	due := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	svc := stubPaymentService{
		totalFn: func(ctx context.Context, id uuid.UUID) (int64, error) {
			if id != userID {
				t.Fatalf("unexpected user %s", id)
			}
			return 12345, nil
		},
		nextFn: func(ctx context.Context, id uuid.UUID) (*payments.NextPaymentDue, error) {
			return &payments.NextPaymentDue{PaymentID: uuid.New(), DueDate: due, AmountDueCents: 500}, nil
		},
	}

	resp := httptest.NewRecorder()
	PaymentPendingTotal(svc, nil).ServeHTTP(resp, authedRequest(http.MethodGet, "/", "", userID, enums.RoleUser, nil))
	var total pendingTotalResponse
	decodeData(t, resp, &total)
	if total.TotalPendingCents != 12345 || total.TotalPending.String() != "123.45" {
		t.Fatalf("unexpected total %+v", total)
	}

	resp = httptest.NewRecorder()
	PaymentNextDue(svc, nil).ServeHTTP(resp, authedRequest(http.MethodGet, "/", "", userID, enums.RoleUser, nil))
	var next payments.NextPaymentDue
	decodeData(t, resp, &next)
	if !next.DueDate.Equal(due) || next.AmountDueCents != 500 {
		t.Fatalf("unexpected next due %+v", next)
	}
}

func TestPaymentListPending(t *testing.T) {
	userID := uuid.New()
	svc := stubPaymentService{
		pendingFn: func(ctx context.Context, id uuid.UUID) ([]models.Payment, error) {
			return []models.Payment{{ID: uuid.New(), UserID: id, TotalAmountCents: 100, Status: enums.PaymentStatusOverdue}}, nil
		},
	}
	resp := httptest.NewRecorder()
	PaymentListPending(svc, nil).ServeHTTP(resp, authedRequest(http.MethodGet, "/", "", userID, enums.RoleUser, nil))
	var views []payments.PaymentView
	decodeData(t, resp, &views)
	if len(views) != 1 || views[0].Status != enums.PaymentStatusOverdue {
		t.Fatalf("unexpected payload %+v", views)
	}
}
