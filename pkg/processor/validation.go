package processor

import (
	"errors"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sigweihq/purchasegate/pkg/constants"
	"github.com/sigweihq/purchasegate/pkg/types"
	"github.com/sigweihq/purchasegate/pkg/utils"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())

	// Report JSON field names so messages match the wire format.
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	if err := v.RegisterValidation("txhash", func(fl validator.FieldLevel) bool {
		_, err := utils.NormalizeTxHash(fl.Field().String())
		return err == nil
	}); err != nil {
		panic(err)
	}

	return v
}

var payerIDRule = "max=" + strconv.Itoa(constants.MaxPayerIDLength)

// CheckPayerID rejects a fid too long to be used as a key. An empty fid passes
// here and is reported by Verify.
func CheckPayerID(payerID string) error {
	if err := validate.Var(strings.TrimSpace(payerID), payerIDRule); err != nil {
		return invalidInput("fid is too long")
	}
	return nil
}

// normalizeRequest trims every identifier and canonicalizes the hash.
// It returns an InputError when the request does not carry exactly one
// usable payment identifier.
func normalizeRequest(req types.VerifyRequest) (types.VerifyRequest, error) {
	req.PayerID = strings.TrimSpace(req.PayerID)
	req.SKUID = strings.TrimSpace(req.SKUID)
	req.TxHash = strings.TrimSpace(req.TxHash)
	req.CallID = strings.TrimSpace(req.CallID)

	if err := validate.Struct(req); err != nil {
		return req, validationError(err)
	}

	switch {
	case req.TxHash == "" && req.CallID == "":
		return req, invalidInput("Missing required fields")
	case req.TxHash != "" && req.CallID != "":
		return req, invalidInput("Provide either txHash or callId, not both")
	}

	if req.TxHash != "" {
		hash, err := utils.NormalizeTxHash(req.TxHash)
		if err != nil {
			return req, invalidInput("txHash is not a valid transaction hash")
		}
		req.TxHash = hash
	}

	return req, nil
}

func validationError(err error) error {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return invalidInput("Invalid request")
	}

	for _, fe := range verrs {
		if fe.Tag() == "required" {
			return invalidInput("Missing required fields")
		}
	}

	fe := verrs[0]
	switch fe.Tag() {
	case "txhash":
		return invalidInput("%s is not a valid transaction hash", fe.Field())
	case "max":
		return invalidInput("%s is too long", fe.Field())
	default:
		return invalidInput("%s is invalid", fe.Field())
	}
}
