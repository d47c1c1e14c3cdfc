// Package docs holds the OpenAPI description served at /swagger.
// Regenerate with `swag init -g cmd/api/main.go`.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "contact": {},
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/health": {
            "get": {
                "description": "Reports the service status and the result of each dependency check",
                "produces": ["application/json"],
                "tags": ["Health"],
                "summary": "Health Check",
                "responses": {"200": {"description": "OK"}, "503": {"description": "A dependency is down"}}
            }
        },
        "/auth/login": {
            "post": {
                "description": "Authenticates a user and returns a token scoped to the user's customer",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Auth"],
                "summary": "Login",
                "responses": {"200": {"description": "OK"}, "401": {"description": "Unauthorized"}}
            }
        },
        "/signature-requests": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["SignatureRequests"],
                "summary": "List Signature Requests",
                "responses": {"200": {"description": "OK"}}
            },
            "post": {
                "security": [{"BearerAuth": []}],
                "tags": ["SignatureRequests"],
                "summary": "Create Signature Request",
                "responses": {"200": {"description": "Reused"}, "201": {"description": "Created"}}
            }
        },
        "/signature-requests/{id}": {
            "get": {
                "security": [{"BearerAuth": []}],
                "tags": ["SignatureRequests"],
                "summary": "Get Signature Request",
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            },
            "patch": {
                "security": [{"BearerAuth": []}],
                "tags": ["SignatureRequests"],
                "summary": "Archive or Resend",
                "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict"}}
            },
            "delete": {
                "security": [{"BearerAuth": []}],
                "tags": ["SignatureRequests"],
                "summary": "Discard Signature Request",
                "responses": {"200": {"description": "OK"}, "400": {"description": "Bad Request"}}
            }
        },
        "/signature-requests/{id}/audit": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["Audit"], "summary": "Audit Trail", "responses": {"200": {"description": "OK"}}}
        },
        "/signature-requests/{id}/audit/verify": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["Audit"], "summary": "Verify Audit Trail", "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict"}}}
        },
        "/signature-requests/{id}/audit/certificate.pdf": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["Audit"], "summary": "Audit Certificate", "responses": {"200": {"description": "OK"}}}
        },
        "/signature-requests/{id}/audit/export.xlsx": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["Audit"], "summary": "Export Audit Ledger (XLSX)", "responses": {"200": {"description": "OK"}}}
        },
        "/signature-requests/{id}/audit/export.csv": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["Audit"], "summary": "Export Audit Ledger (CSV)", "responses": {"200": {"description": "OK"}}}
        },
        "/signature-requests/{id}/audit/legacy": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["Audit"], "summary": "Legacy Audit View", "responses": {"200": {"description": "OK"}}}
        },
        "/signature-requests/{id}/audit/migrate-legacy": {
            "post": {"security": [{"BearerAuth": []}], "tags": ["Audit"], "summary": "Migrate Legacy Audit Logs", "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict"}}}
        },
        "/sign-requests/{shortId}": {
            "get": {"tags": ["Sign"], "summary": "Open Signing Link", "responses": {"200": {"description": "OK"}, "403": {"description": "Forbidden"}, "410": {"description": "Gone"}}},
            "put": {"tags": ["Sign"], "summary": "Sign", "responses": {"200": {"description": "OK"}, "409": {"description": "Conflict"}}}
        },
        "/sign-requests/{shortId}/document": {
            "get": {"tags": ["Sign"], "summary": "Download Signed Document", "responses": {"200": {"description": "OK"}}}
        },
        "/sign-requests/{shortId}/verify": {
            "post": {"tags": ["Sign"], "summary": "Verify Signed Document", "responses": {"200": {"description": "OK"}}}
        },
        "/jobs/status": {
            "get": {"security": [{"BearerAuth": []}], "tags": ["Jobs"], "summary": "Get background job status", "responses": {"200": {"description": "OK"}}}
        },
        "/jobs/expiry-sweep": {
            "post": {"security": [{"BearerAuth": []}], "tags": ["Jobs"], "summary": "Run the expiry sweep", "responses": {"202": {"description": "Accepted"}, "409": {"description": "Sweep already running"}}}
        }
    },
    "securityDefinitions": {
        "BearerAuth": {"type": "apiKey", "name": "Authorization", "in": "header"}
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8081",
	BasePath:         "/api/v1",
	Schemes:          []string{"http"},
	Title:            "Fintera Sign API",
	Description:      "Electronic signature requests with a tamper evident audit trail",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
