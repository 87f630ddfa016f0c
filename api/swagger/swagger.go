package swagger

import "github.com/swaggo/swag"

const docTemplate = `{
    "swagger": "2.0",
    "info": {
        "title": "OpenCove Billing API",
        "description": "Payments, installment plans, discounts and fulfillment for cohort memberships",
        "version": "0.1.0"
    },
    "basePath": "/api/v1",
    "schemes": [
        "http"
    ],
    "tags": [
        {"name": "Auth", "description": "Session management"},
        {"name": "Payments", "description": "Payment intents, receipts and confirmation"},
        {"name": "Discounts", "description": "Discount codes and quoting"},
        {"name": "Enrollments", "description": "Installment plans and payment compliance"},
        {"name": "Webhooks", "description": "Gateway event ingestion"}
    ],
    "paths": {
        "/health": {
            "get": {
                "summary": "Health check",
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/auth/login": {
            "post": {
                "tags": ["Auth"],
                "summary": "Login",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/LoginRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/refresh": {
            "post": {
                "tags": ["Auth"],
                "summary": "Refresh access token",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/auth/logout": {
            "post": {
                "tags": ["Auth"],
                "summary": "Revoke refresh token",
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/auth/me": {
            "get": {
                "tags": ["Auth"],
                "summary": "Current session identity",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/payments/intents": {
            "post": {
                "tags": ["Payments"],
                "summary": "Create a payment intent",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateIntentRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/payments": {
            "get": {
                "tags": ["Payments"],
                "summary": "List my payments",
                "parameters": [
                    {"name": "status", "in": "query", "type": "string"},
                    {"name": "purpose", "in": "query", "type": "string"},
                    {"name": "page", "in": "query", "type": "integer"},
                    {"name": "page_size", "in": "query", "type": "integer"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/payments/{reference}": {
            "get": {
                "tags": ["Payments"],
                "summary": "Get a payment",
                "parameters": [
                    {"name": "reference", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/payments/{reference}/confirm": {
            "post": {
                "tags": ["Payments"],
                "summary": "Verify a payment with the gateway and settle it",
                "parameters": [
                    {"name": "reference", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/payments/{reference}/receipt": {
            "get": {
                "tags": ["Payments"],
                "summary": "Download a PDF receipt for a settled payment",
                "produces": ["application/pdf"],
                "parameters": [
                    {"name": "reference", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "PDF document"}
                }
            }
        },
        "/payments/{reference}/replay": {
            "post": {
                "tags": ["Payments"],
                "summary": "Replay a dead-lettered fulfillment (admin)",
                "parameters": [
                    {"name": "reference", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/webhooks/gateway": {
            "post": {
                "tags": ["Webhooks"],
                "summary": "Ingest a signed gateway event",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/WebhookEvent"}}
                ],
                "responses": {
                    "200": {"description": "Recorded"},
                    "401": {"description": "Invalid signature"}
                }
            }
        },
        "/discounts/preview": {
            "post": {
                "tags": ["Discounts"],
                "summary": "Quote a discount code against a purchase",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/DiscountPreviewRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/discounts": {
            "get": {
                "tags": ["Discounts"],
                "summary": "List discount codes (admin)",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "post": {
                "tags": ["Discounts"],
                "summary": "Create a discount code (admin)",
                "parameters": [
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/CreateDiscountRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/discounts/{code}": {
            "patch": {
                "tags": ["Discounts"],
                "summary": "Update a discount code (admin)",
                "parameters": [
                    {"name": "code", "in": "path", "required": true, "type": "string"},
                    {"name": "payload", "in": "body", "required": true, "schema": {"$ref": "#/definitions/UpdateDiscountRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            },
            "delete": {
                "tags": ["Discounts"],
                "summary": "Deactivate a discount code (admin)",
                "parameters": [
                    {"name": "code", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "204": {"description": "No Content"}
                }
            }
        },
        "/enrollments/{id}/schedule": {
            "get": {
                "tags": ["Enrollments"],
                "summary": "Get the installment plan for an enrollment",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        },
        "/enrollments/{id}/evaluate": {
            "post": {
                "tags": ["Enrollments"],
                "summary": "Re-run the compliance evaluation for an enrollment (admin)",
                "parameters": [
                    {"name": "id", "in": "path", "required": true, "type": "string"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/ResponseEnvelope"}}
                }
            }
        }
    },
    "definitions": {
        "LoginRequest": {
            "type": "object",
            "properties": {
                "email": {"type": "string"},
                "password": {"type": "string"}
            },
            "required": ["email", "password"]
        },
        "CreateIntentRequest": {
            "type": "object",
            "properties": {
                "purpose": {"type": "string"},
                "amount": {"type": "integer"},
                "currency": {"type": "string"},
                "payer_email": {"type": "string"},
                "discount_code": {"type": "string"},
                "metadata": {"type": "object"}
            },
            "required": ["purpose", "amount"]
        },
        "WebhookEvent": {
            "type": "object",
            "properties": {
                "event": {"type": "string"},
                "data": {
                    "type": "object",
                    "properties": {
                        "reference": {"type": "string"},
                        "status": {"type": "string"},
                        "amount": {"type": "integer"},
                        "currency": {"type": "string"},
                        "paid_at": {"type": "string"}
                    }
                }
            }
        },
        "DiscountPreviewRequest": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "purpose": {"type": "string"},
                "amount": {"type": "integer"},
                "components": {
                    "type": "array",
                    "items": {
                        "type": "object",
                        "properties": {
                            "purpose": {"type": "string"},
                            "amount": {"type": "integer"}
                        }
                    }
                }
            },
            "required": ["code", "purpose", "amount"]
        },
        "CreateDiscountRequest": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "type": {"type": "string", "enum": ["PERCENTAGE", "FIXED"]},
                "value": {"type": "integer"},
                "applies_to": {"type": "array", "items": {"type": "string"}},
                "valid_from": {"type": "string"},
                "valid_until": {"type": "string"},
                "max_uses": {"type": "integer"},
                "is_active": {"type": "boolean"}
            },
            "required": ["code", "type", "value"]
        },
        "UpdateDiscountRequest": {
            "type": "object",
            "properties": {
                "value": {"type": "integer"},
                "applies_to": {"type": "array", "items": {"type": "string"}},
                "valid_from": {"type": "string"},
                "valid_until": {"type": "string"},
                "max_uses": {"type": "integer"},
                "is_active": {"type": "boolean"}
            }
        },
        "Pagination": {
            "type": "object",
            "properties": {
                "page": {"type": "integer"},
                "page_size": {"type": "integer"},
                "total_count": {"type": "integer"}
            }
        },
        "APIError": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "message": {"type": "string"},
                "status": {"type": "integer"}
            }
        },
        "ResponseEnvelope": {
            "type": "object",
            "properties": {
                "data": {"type": "object"},
                "error": {"$ref": "#/definitions/APIError"},
                "pagination": {"$ref": "#/definitions/Pagination"},
                "meta": {"type": "object"}
            }
        }
    }
}`

type swaggerDoc struct{}

// ReadDoc returns the Swagger document.
func (s *swaggerDoc) ReadDoc() string {
	return docTemplate
}

func init() {
	swag.Register(swag.Name, &swaggerDoc{})
}
