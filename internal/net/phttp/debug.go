// Copyright 2021-2024 the Pinniped contributors. All Rights Reserved.
// SPDX-License-Identifier: Apache-2.0

package phttp

import (
	"net/http"
	"net/url"

	"k8s.io/apimachinery/pkg/util/sets"
	"k8s.io/client-go/transport"

	"go.pinniped.dev/safekeeping/internal/httputil/roundtripper"
)

// visibleHeaders never carry secrets and are what makes a SOAP exchange readable in the debug output.
//
//nolint:gochecknoglobals
var visibleHeaders = sets.New(
	http.CanonicalHeaderKey("Content-Type"),
	http.CanonicalHeaderKey("SOAPAction"),
)

func safeDebugWrappers(rt http.RoundTripper, f transport.WrapperFunc, shouldLog func() bool) http.RoundTripper {
	return roundtripper.WrapFunc(rt, func(req *http.Request) (*http.Response, error) {
		// note: do not make this entire wrapper conditional on shouldLog() - the output is allowed to change at runtime
		if !shouldLog() {
			return rt.RoundTrip(req)
		}

		var (
			resp *http.Response
			err  error
		)
		debugRT := f(roundtripper.Func(func(_ *http.Request) (*http.Response, error) {
			// this call needs to be inside this closure so that the debug wrappers can time it
			// note also that it takes the original (real) request
			resp, err = rt.RoundTrip(req)

			return cleanResp(resp), err // session cookies come back in Set-Cookie
		}))

		// run the debug wrappers for their side effects (i.e. logging)
		// the output is ignored because the input is not the real request
		_, _ = debugRT.RoundTrip(cleanReq(req)) // do not leak session cookies or refresh tokens

		return resp, err
	})
}

func cleanReq(req *http.Request) *http.Request {
	// only pass back things we know to be safe to log
	return &http.Request{
		Method: req.Method,
		URL:    cleanURL(req.URL),
		Header: cleanHeader(req.Header),
	}
}

func cleanResp(resp *http.Response) *http.Response {
	if resp == nil {
		return nil
	}

	return &http.Response{
		Status: resp.Status,
		Header: cleanHeader(resp.Header),
	}
}

func cleanURL(u *url.URL) *url.URL {
	var user *url.Userinfo
	if len(u.User.Username()) > 0 {
		user = url.User("masked_username")
	}

	var fragment string
	if len(u.Fragment) > 0 || len(u.RawFragment) > 0 {
		fragment = "masked_fragment"
	}

	return &url.URL{
		Scheme:   u.Scheme,
		User:     user,
		Host:     u.Host,
		Path:     u.Path,
		RawPath:  u.RawPath,
		RawQuery: cleanQuery(u.Query()),
		Fragment: fragment,
	}
}

func cleanQuery(query url.Values) string {
	if len(query) == 0 {
		return ""
	}

	out := make(url.Values, len(query))
	for key := range query {
		out[key] = []string{"masked_value"}
	}
	return out.Encode()
}

func cleanHeader(header http.Header) http.Header {
	if len(header) == 0 {
		return nil
	}

	mask := []string{"masked_value"}
	out := make(http.Header, len(header))
	for key, values := range header {
		if visibleHeaders.Has(key) {
			out[key] = values
			continue
		}
		out[key] = mask // only copy the keys
	}

	return out
}
