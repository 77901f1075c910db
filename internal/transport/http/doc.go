// Package http implements the HTTP request handlers for the license
// dashboard. It is a thin layer between chi routing and the service
// layer, keeping handlers focused solely on HTTP concerns.
//
// # Architecture Principles
//
// Handlers in this package follow these principles:
//
//	1. Thin handlers - minimal logic, delegate to services
//	2. HTTP-only concerns - request parsing, response formatting
//	3. Error transformation - convert service errors to HTTP responses
//	4. No business logic - all logic belongs in the service layer
//	5. Consistent patterns - standardized request/response handling
//
// # Request Flow
//
// A typical request flows through these layers:
//
//	HTTP Request → Chi Router → Middleware → Handler → Service → Client
//	                                              ↓
//	HTTP Response ← Handler ← Service Response ←─┘
//
// The session guard resolves the sealed cookie into a Principal before
// any dashboard handler runs; unauthenticated API requests get a 401
// problem response without touching the service layer.
//
// # Handler Structure
//
// Each handler follows this pattern:
//
//	func (h *Handler) HandleSomething(w http.ResponseWriter, r *http.Request) {
//	    // 1. Parse and validate request
//	    var req SomethingRequest
//	    if err := render.Decode(r, &req); err != nil { ... }
//
//	    // 2. Call service layer
//	    result, err := h.service.DoSomething(r.Context(), req)
//	    if err != nil {
//	        h.errs.HandleError(w, r, err)
//	        return
//	    }
//
//	    // 3. Format and send response
//	    render.JSON(w, r, result)
//	}
//
// # Error Handling
//
// All errors follow RFC 7807 Problem Details:
//
//	{
//	    "type": "/errors/licenses/action-in-flight",
//	    "title": "Action Already Pending",
//	    "status": 409,
//	    "detail": "Another license action is still pending.",
//	    "trace_id": "..."
//	}
//
// Backend rejections keep the backend's own message as the problem
// detail so the operator sees exactly what the backend said.
//
// # WebSocket Support
//
// The websocket handler upgrades session-guarded requests with Gorilla
// WebSocket, registers the client with the hub under its session ID,
// and leaves message pumping to the websocket package.
//
// # Testing
//
// Handlers are tested with httptest against mocked services: various
// HTTP scenarios, error responses, and cookie behavior.
package http
