// Package api provides the exchange REST client used alongside the
// announcement socket.
//
// Endpoints:
//   - GET /api/v3/time: server clock, the reference timestamp for signing
//   - GET /bapi/composite/v1/public/cms/article/list/query: public
//     announcement listing, polled as a backstop for the socket
package api
