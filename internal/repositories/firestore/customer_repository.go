package firestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"

	"github.com/foodcourt/orders-api/internal/domain"
	pfirestore "github.com/foodcourt/orders-api/internal/platform/firestore"
	"github.com/foodcourt/orders-api/internal/repositories"
)

const (
	customersCollection = "customers"
	couponsCollection   = "coupons"
)

// CustomerRepository reads customer profiles.
type CustomerRepository struct {
	customers *pfirestore.Collection[customerDocument]
}

var _ repositories.CustomerRepository = (*CustomerRepository)(nil)

// NewCustomerRepository constructs the repository.
func NewCustomerRepository(provider *pfirestore.Provider) (*CustomerRepository, error) {
	if provider == nil {
		return nil, errors.New("customer repository requires firestore provider")
	}
	return &CustomerRepository{
		customers: pfirestore.NewCollection[customerDocument](provider, customersCollection, nil),
	}, nil
}

// FindByID implements repositories.CustomerRepository.
func (r *CustomerRepository) FindByID(ctx context.Context, customerID string) (domain.Customer, error) {
	doc, err := r.customers.Get(ctx, customerID)
	if err != nil {
		return domain.Customer{}, err
	}
	if doc.ID == "" {
		doc.ID = customerID
	}
	return customerToDomain(doc), nil
}

// FindByExternalUserID implements repositories.CustomerRepository.
func (r *CustomerRepository) FindByExternalUserID(ctx context.Context, tenantID, externalUserID string) (domain.Customer, error) {
	externalUserID = strings.TrimSpace(externalUserID)
	docs, err := r.customers.Query(ctx, func(q firestore.Query) firestore.Query {
		return q.Where("tenantId", "==", tenantID).
			Where("externalUserId", "==", externalUserID).
			Limit(1)
	})
	if err != nil {
		return domain.Customer{}, err
	}
	if len(docs) == 0 {
		return domain.Customer{}, pfirestore.NotFoundError("customers.find_by_external_user",
			fmt.Sprintf("no customer for user %s in tenant %s", externalUserID, tenantID))
	}
	return customerToDomain(docs[0]), nil
}

func customerToDomain(doc customerDocument) domain.Customer {
	return domain.Customer{
		ID:             doc.ID,
		ExternalUserID: doc.ExternalUserID,
		TenantID:       doc.TenantID,
		Name:           doc.Name,
		Email:          doc.Email,
		Phone:          doc.Phone,
	}
}

// CouponRepository reads coupons stored under "{tenantId}:{CODE}".
type CouponRepository struct {
	coupons *pfirestore.Collection[couponDocument]
}

var _ repositories.CouponRepository = (*CouponRepository)(nil)

// NewCouponRepository constructs the repository.
func NewCouponRepository(provider *pfirestore.Provider) (*CouponRepository, error) {
	if provider == nil {
		return nil, errors.New("coupon repository requires firestore provider")
	}
	return &CouponRepository{
		coupons: pfirestore.NewCollection[couponDocument](provider, couponsCollection, nil),
	}, nil
}

// CouponDocumentID is the document id of a tenant's coupon.
func CouponDocumentID(tenantID, code string) string {
	return tenantID + ":" + code
}

// FindByCode implements repositories.CouponRepository. code must already be normalised.
func (r *CouponRepository) FindByCode(ctx context.Context, tenantID, code string) (domain.Coupon, error) {
	doc, err := r.coupons.Get(ctx, CouponDocumentID(tenantID, code))
	if err != nil {
		return domain.Coupon{}, err
	}
	return domain.Coupon{
		Code:            doc.Code,
		TenantID:        doc.TenantID,
		DiscountPercent: doc.DiscountPercent,
		ValidUntil:      doc.ValidUntil,
	}, nil
}
