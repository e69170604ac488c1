// Package httpserver exposes the hub over HTTP.
//
// Routes:
//
//	POST   /store/{address}/{path}   store an object
//	DELETE /delete/{address}/{path}  delete an object
//	POST   /list-files/{address}     list one page of object names
//	POST   /revoke-all/{address}     bump the revocation watermark
//	GET    /hub_info/                hub descriptor for clients
//
// plus the usual livez/readyz/drain/undrain lifecycle endpoints and an
// optional pprof mount. Hub errors surface as JSON envelopes with an
// error name and a status code chosen per error type; everything
// unrecognized is a 500.
package httpserver
