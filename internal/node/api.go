// Package node hosts the ledger node's HTTP API: committed-state queries
// and atomic settlement submission.
package node

import (
	"encoding/json"
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/louisbranch/kiosk.market/internal/kiosk"
	"github.com/louisbranch/kiosk.market/internal/ledger"
	"github.com/louisbranch/kiosk.market/internal/platform/errors"
	"github.com/louisbranch/kiosk.market/internal/policy"
	"github.com/louisbranch/kiosk.market/internal/settlement"
)

// API serves queries against committed ledger state and executes
// submitted settlements.
type API struct {
	store  ledger.Store
	ex     *settlement.Executor
	secret []byte
}

// NewAPI creates the API over a store. The secret verifies settlement
// submission tokens.
func NewAPI(store ledger.Store, secret []byte) *API {
	return &API{
		store:  store,
		ex:     settlement.NewExecutor(store),
		secret: secret,
	}
}

// KioskLookupResponse answers the account kiosk lookup.
type KioskLookupResponse struct {
	KioskID  ledger.ObjectID `json:"kioskId"`
	CapID    ledger.ObjectID `json:"capId"`
	Personal bool            `json:"personal"`
}

// ListingResponse answers the listing lookup. KioskVersion is the kiosk
// object version the listing was read at, for settlement input refs.
type ListingResponse struct {
	AssetID      ledger.ObjectID `json:"assetId"`
	Price        uint64          `json:"price"`
	Exclusive    bool            `json:"exclusive"`
	KioskVersion uint64          `json:"kioskVersion"`
}

// PolicyResponse answers the policy lookup.
type PolicyResponse struct {
	PolicyID   ledger.ObjectID       `json:"policyId"`
	Version    uint64                `json:"version"`
	Collection string                `json:"collection"`
	Rules      policy.RuleSet        `json:"rules"`
	Royalty    *policy.RoyaltyConfig `json:"royalty,omitempty"`
}

// ObjectResponse is the raw object envelope.
type ObjectResponse struct {
	ID      ledger.ObjectID   `json:"id"`
	Type    ledger.ObjectType `json:"type"`
	Version uint64            `json:"version"`
	Owner   ledger.Address    `json:"owner,omitempty"`
	Body    json.RawMessage   `json:"body"`
}

// SettlementResponse reports an executed settlement.
type SettlementResponse struct {
	Status  string          `json:"status"`
	Digest  string          `json:"digest"`
	Effects []ledger.Change `json:"effects"`
}

// ErrorEnvelope is the coded error body every non-2xx response carries.
type ErrorEnvelope struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody is the coded error payload.
type ErrorBody struct {
	Code     errors.Code       `json:"code"`
	Message  string            `json:"message"`
	Metadata map[string]string `json:"metadata,omitempty"`
}

// Handler builds the HTTP handler with tracing instrumentation.
func (a *API) Handler() http.Handler {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery())

	router.GET("/healthz", a.health)
	v1 := router.Group("/v1")
	v1.GET("/accounts/:address/kiosk", a.accountKiosk)
	v1.GET("/kiosks/:kioskId/listings/:assetId", a.listing)
	v1.GET("/policies/:policyId", a.policyLookup)
	v1.GET("/objects/:id", a.object)
	v1.POST("/settlements", a.requireSigner(), a.submit)

	return otelhttp.NewHandler(router, "kioskmarket.node")
}

func (a *API) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// accountKiosk resolves the kiosk an account controls. With
// ?personal=true it resolves through the delegated-access capability and
// reports the kiosk as owner-bound; otherwise it looks for a directly
// held ownership capability.
func (a *API) accountKiosk(c *gin.Context) {
	addr := ledger.Address(c.Param("address"))
	ctx := c.Request.Context()

	if c.Query("personal") == "true" {
		personalObj, err := a.store.FindOwnedObject(ctx, addr, ledger.TypePersonalCap)
		if err != nil {
			respondError(c, err)
			return
		}
		var personalBody kiosk.PersonalCapBody
		if err := json.Unmarshal(personalObj.Body, &personalBody); err != nil {
			respondError(c, err)
			return
		}
		capObj, err := a.store.GetObject(ctx, personalBody.Cap)
		if err != nil {
			respondError(c, err)
			return
		}
		var capBody kiosk.OwnerCapBody
		if err := json.Unmarshal(capObj.Body, &capBody); err != nil {
			respondError(c, err)
			return
		}
		c.JSON(http.StatusOK, KioskLookupResponse{
			KioskID:  capBody.Kiosk,
			CapID:    personalBody.Cap,
			Personal: true,
		})
		return
	}

	capObj, err := a.store.FindOwnedObject(ctx, addr, ledger.TypeOwnerCap)
	if err != nil {
		respondError(c, err)
		return
	}
	var capBody kiosk.OwnerCapBody
	if err := json.Unmarshal(capObj.Body, &capBody); err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, KioskLookupResponse{
		KioskID:  capBody.Kiosk,
		CapID:    capObj.ID,
		Personal: false,
	})
}

func (a *API) listing(c *gin.Context) {
	kioskID := ledger.ObjectID(c.Param("kioskId"))
	assetID := ledger.ObjectID(c.Param("assetId"))

	obj, err := a.store.GetObject(c.Request.Context(), kioskID)
	if err != nil {
		respondError(c, err)
		return
	}
	body, err := kiosk.DecodeBody(obj)
	if err != nil {
		respondError(c, err)
		return
	}
	listing, ok := body.Listings[assetID]
	if !ok {
		respondError(c, errors.WithMetadata(errors.CodeNotFound,
			"no active listing for asset",
			map[string]string{"kiosk": string(kioskID), "asset": string(assetID)},
		))
		return
	}
	c.JSON(http.StatusOK, ListingResponse{
		AssetID:      assetID,
		Price:        listing.Price,
		Exclusive:    listing.Exclusive,
		KioskVersion: obj.Version,
	})
}

func (a *API) policyLookup(c *gin.Context) {
	policyID := ledger.ObjectID(c.Param("policyId"))

	obj, err := a.store.GetObject(c.Request.Context(), policyID)
	if err != nil {
		respondError(c, err)
		return
	}
	body, err := policy.DecodeBody(obj)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, PolicyResponse{
		PolicyID:   obj.ID,
		Version:    obj.Version,
		Collection: body.Collection,
		Rules:      body.Rules,
		Royalty:    body.Royalty,
	})
}

func (a *API) object(c *gin.Context) {
	obj, err := a.store.GetObject(c.Request.Context(), ledger.ObjectID(c.Param("id")))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, ObjectResponse{
		ID:      obj.ID,
		Type:    obj.Type,
		Version: obj.Version,
		Owner:   obj.Owner,
		Body:    json.RawMessage(obj.Body),
	})
}

func (a *API) submit(c *gin.Context) {
	raw, err := c.GetRawData()
	if err != nil {
		respondError(c, errors.Wrap(errors.CodeInvalidCommand, "read settlement body", err))
		return
	}
	env, err := settlement.Decode(raw)
	if err != nil {
		respondError(c, err)
		return
	}

	effects, err := a.ex.Execute(c.Request.Context(), settlement.Submission{
		Signer:   signerFrom(c),
		Inputs:   env.Inputs,
		Commands: env.Commands,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, SettlementResponse{
		Status:  "executed",
		Digest:  effects.Digest,
		Effects: effects.Changes,
	})
}

func respondError(c *gin.Context, err error) {
	code := errors.CodeOf(err)
	var metadata map[string]string
	var domainErr *errors.Error
	if stderrors.As(err, &domainErr) {
		metadata = domainErr.Metadata
	}
	c.AbortWithStatusJSON(code.HTTPStatus(), ErrorEnvelope{Error: ErrorBody{
		Code:     code,
		Message:  err.Error(),
		Metadata: metadata,
	}})
}
