// Package docs holds the OpenAPI document for the admin API, in the layout
// swag generates. Regenerate with:
//
//	swag init -g internal/http/router.go -o internal/docs
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
        "/stats": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "Returns user counts, report count, the most active users and the 30-day top 10. Admins are left out of rankings.",
                "produces": ["application/json"],
                "tags": ["Admin"],
                "summary": "Bot statistics",
                "operationId": "getStats",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/services.Summary"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/users": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "Returns a page of users, newest first.",
                "produces": ["application/json"],
                "tags": ["Admin"],
                "summary": "List users (paginated)",
                "operationId": "listUsers",
                "parameters": [
                    {"minimum": 1, "type": "integer", "default": 1, "description": "Page number", "name": "page", "in": "query"},
                    {"maximum": 100, "minimum": 1, "type": "integer", "default": 20, "description": "Items per page", "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListUsersResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/reports": {
            "get": {
                "security": [{"BearerAuth": []}],
                "description": "Returns a page of user reports, newest first.",
                "produces": ["application/json"],
                "tags": ["Admin"],
                "summary": "List reports (paginated)",
                "operationId": "listReports",
                "parameters": [
                    {"minimum": 1, "type": "integer", "default": 1, "description": "Page number", "name": "page", "in": "query"},
                    {"maximum": 100, "minimum": 1, "type": "integer", "default": 20, "description": "Items per page", "name": "page_size", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/handlers.ListReportsResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "500": {"description": "Internal error", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        },
        "/broadcasts": {
            "post": {
                "security": [{"BearerAuth": []}],
                "description": "Queues a message to every active user. With an Idempotency-Key, repeating the request returns the original broadcast id instead of sending twice.",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["Admin"],
                "summary": "Queue a broadcast",
                "operationId": "createBroadcast",
                "parameters": [
                    {"type": "string", "example": "7a8d9f4c-1b2a-4c3d-8e9f-0123456789ab", "description": "Idempotency key for safe retries", "name": "Idempotency-Key", "in": "header"},
                    {"description": "Broadcast payload", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/handlers.BroadcastRequest"}}
                ],
                "responses": {
                    "200": {"description": "Replayed", "schema": {"$ref": "#/definitions/handlers.BroadcastAccepted"}, "headers": {"Idempotency-Replayed": {"type": "string", "description": "true on replay"}}},
                    "202": {"description": "Queued", "schema": {"$ref": "#/definitions/handlers.BroadcastAccepted"}},
                    "400": {"description": "Bad request", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "401": {"description": "Unauthorized", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}},
                    "503": {"description": "Queue full", "schema": {"$ref": "#/definitions/handlers.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "domain.Report": {
            "type": "object",
            "properties": {
                "chat_id": {"type": "integer"},
                "created_at": {"type": "string"},
                "id": {"type": "string"},
                "prompt": {"type": "string"},
                "user_id": {"type": "integer"}
            }
        },
        "domain.User": {
            "type": "object",
            "properties": {
                "created_at": {"type": "string"},
                "first_name": {"type": "string"},
                "id": {"type": "integer"},
                "is_active": {"type": "boolean"},
                "last_seen": {"type": "string"},
                "username": {"type": "string"}
            }
        },
        "handlers.BroadcastAccepted": {
            "type": "object",
            "properties": {
                "id": {"type": "string", "example": "6f1c2a0e-6d1b-4a53-9b39-0c2f1b8f4d11"},
                "status": {"type": "string", "example": "queued"}
            }
        },
        "handlers.BroadcastRequest": {
            "type": "object",
            "required": ["text"],
            "properties": {
                "progress_chat_id": {"type": "integer", "example": 123456789},
                "text": {"type": "string", "example": "Yangi imkoniyatlar qo'shildi!"}
            }
        },
        "handlers.ErrorResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "string", "example": "queue_full"},
                "message": {"type": "string", "example": "background queue is full, retry later"},
                "request_id": {"type": "string", "example": "123e4567-e89b-12d3-a456-426614174000"}
            }
        },
        "handlers.ListReportsResponse": {
            "type": "object",
            "properties": {
                "pagination": {"$ref": "#/definitions/handlers.Pagination"},
                "reports": {"type": "array", "items": {"$ref": "#/definitions/domain.Report"}}
            }
        },
        "handlers.ListUsersResponse": {
            "type": "object",
            "properties": {
                "pagination": {"$ref": "#/definitions/handlers.Pagination"},
                "users": {"type": "array", "items": {"$ref": "#/definitions/domain.User"}}
            }
        },
        "handlers.Pagination": {
            "type": "object",
            "properties": {
                "has_next": {"type": "boolean"},
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total": {"type": "integer"},
                "total_pages": {"type": "integer"}
            }
        },
        "repo.UserActivityCount": {
            "type": "object",
            "properties": {
                "total": {"type": "integer"},
                "user_id": {"type": "integer"},
                "username": {"type": "string"}
            }
        },
        "services.Summary": {
            "type": "object",
            "properties": {
                "active_users": {"type": "integer"},
                "last_user": {"$ref": "#/definitions/domain.User"},
                "most_active_30d": {"$ref": "#/definitions/repo.UserActivityCount"},
                "most_active_today": {"$ref": "#/definitions/repo.UserActivityCount"},
                "new_today": {"type": "integer"},
                "reports": {"type": "integer"},
                "top_30d": {"type": "array", "items": {"$ref": "#/definitions/repo.UserActivityCount"}},
                "total_users": {"type": "integer"}
            }
        }
    },
    "securityDefinitions": {
        "BearerAuth": {
            "description": "Bearer ADMIN_API_TOKEN",
            "type": "apiKey",
            "name": "Authorization",
            "in": "header"
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "tg-ai-assistant admin API",
	Description:      "Statistics, user and report listings, and broadcasts for the Telegram assistant.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
