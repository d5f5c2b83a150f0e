// Package directory indexes authorizations and resellers for lookup during
// order processing. The index is built once at startup and never mutated, so
// reads need no locking.
package directory

import (
	"vendorsync/internal/model"
)

type sellerKey struct {
	authorizationUK string
	sellerUK        string
}

type Directory struct {
	authorizations map[string]model.Authorization
	resellers      map[sellerKey]model.Reseller
}

// New builds the index from configured authorizations.
func New(authorizations []model.Authorization) *Directory {
	d := &Directory{
		authorizations: make(map[string]model.Authorization, len(authorizations)),
		resellers:      map[sellerKey]model.Reseller{},
	}
	for _, a := range authorizations {
		d.authorizations[a.AuthorizationUK] = a
		for _, r := range a.Resellers {
			d.resellers[sellerKey{a.AuthorizationUK, r.SellerUK}] = r
		}
	}
	return d
}

// Resolve returns the authorization and reseller for the composite key.
// Either identifier being absent is a NotFoundError; there is no default
// reseller, since guessing the distributor or currency corrupts billing.
func (d *Directory) Resolve(authorizationUK, sellerUK string) (model.Authorization, model.Reseller, error) {
	a, ok := d.authorizations[authorizationUK]
	if !ok {
		return model.Authorization{}, model.Reseller{}, &model.NotFoundError{Kind: "authorization", Key: authorizationUK}
	}
	r, ok := d.resellers[sellerKey{authorizationUK, sellerUK}]
	if !ok {
		return model.Authorization{}, model.Reseller{}, &model.NotFoundError{Kind: "reseller", Key: sellerUK}
	}
	return a, r, nil
}

// Authorization returns the authorization alone, for token-scoped calls that
// do not involve a seller.
func (d *Directory) Authorization(authorizationUK string) (model.Authorization, error) {
	a, ok := d.authorizations[authorizationUK]
	if !ok {
		return model.Authorization{}, &model.NotFoundError{Kind: "authorization", Key: authorizationUK}
	}
	return a, nil
}
