package httpclient

import "github.com/wisbric/otter/pkg/model"

// defaultSuccessCodes is the success_codes default from §4.A: {200}.
var defaultSuccessCodes = []int{200}

// defaultReauthCodes is the reauth_codes default from §4.A: {401, 403}.
var defaultReauthCodes = []int{401, 403}

func containsCode(codes []int, code int) bool {
	for _, c := range codes {
		if c == code {
			return true
		}
	}
	return false
}

// checkStatus implements layer 3: fail with *model.APIError when the
// response status is not one of successCodes.
func checkStatus(resp *rawResponse, successCodes []int) error {
	if len(successCodes) == 0 {
		successCodes = defaultSuccessCodes
	}
	if containsCode(successCodes, resp.StatusCode) {
		return nil
	}
	return &model.APIError{
		Code:    resp.StatusCode,
		Body:    resp.Body,
		Headers: resp.Header,
	}
}

// isReauthCode reports whether the status indicates the auth injection
// layer should invalidate the cache entry and re-drive the request once.
func isReauthCode(status int, reauthCodes []int) bool {
	if len(reauthCodes) == 0 {
		reauthCodes = defaultReauthCodes
	}
	return containsCode(reauthCodes, status)
}
