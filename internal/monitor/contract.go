package monitor

import (
	"embed"
	"strings"

	"github.com/pkg/errors"
	"github.com/xeipuuv/gojsonschema"

	"github.com/yourorg/payment-gateway/internal/apperr"
)

//go:embed schemas/*.json
var schemasFS embed.FS

// Contract names for the request bodies the gateway accepts.
const (
	ContractCreatePayment  = "create_payment"
	ContractConfirmPayment = "confirm_payment"
	ContractRefundPayment  = "refund_payment"
)

// ContractMonitor validates request bodies against the embedded JSON
// schemas, one per accepted contract.
type ContractMonitor struct {
	schemas map[string]*gojsonschema.Schema
}

func NewContractMonitor() (*ContractMonitor, error) {
	cm := &ContractMonitor{schemas: make(map[string]*gojsonschema.Schema)}
	for _, name := range []string{ContractCreatePayment, ContractConfirmPayment, ContractRefundPayment} {
		raw, err := schemasFS.ReadFile("schemas/" + name + ".json")
		if err != nil {
			return nil, errors.Wrapf(err, "reading schema %s", name)
		}
		schema, err := gojsonschema.NewSchema(gojsonschema.NewBytesLoader(raw))
		if err != nil {
			return nil, errors.Wrapf(err, "compiling schema %s", name)
		}
		cm.schemas[name] = schema
	}
	return cm, nil
}

// Validate checks body against the named contract. An empty body passes
// contracts with no required fields; schema violations come back as a
// validation error carrying per-field details.
func (cm *ContractMonitor) Validate(contract string, body []byte) error {
	schema, ok := cm.schemas[contract]
	if !ok {
		return errors.Errorf("unknown contract %q", contract)
	}
	if len(strings.TrimSpace(string(body))) == 0 {
		body = []byte("{}")
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(body))
	if err != nil {
		return apperr.Wrap(apperr.KindValidationFailed, "request body is not valid JSON", err)
	}
	if result.Valid() {
		return nil
	}

	appErr := apperr.New(apperr.KindValidationFailed, "request body failed validation")
	for _, desc := range result.Errors() {
		appErr = appErr.WithDetail(desc.Field(), desc.Description())
	}
	return appErr
}
