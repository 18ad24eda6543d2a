package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/MrEthical07/guestauth"
)

const maxBodyBytes = 64 << 10

var errMalformedBody = errors.New("malformed json body")

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return &guestauth.Error{Kind: guestauth.KindValidation, Op: "decode", Field: "body", Err: errMalformedBody}
	}
	if dec.Decode(&struct{}{}) != io.EOF {
		return &guestauth.Error{Kind: guestauth.KindValidation, Op: "decode", Field: "body", Err: errMalformedBody}
	}
	return nil
}
