// Package docs registers the order-service OpenAPI document with swag.
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
    "securityDefinitions": {
        "Bearer": {"type": "apiKey", "name": "Authorization", "in": "header"},
        "AdminKey": {"type": "apiKey", "name": "X-Admin-Key", "in": "header"}
    },
    "paths": {
        "/orders": {
            "post": {
                "security": [{"Bearer": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["orders"],
                "summary": "Create an order for the authenticated customer",
                "parameters": [
                    {"type": "string", "description": "Replays return the first order", "name": "Idempotency-Key", "in": "header"},
                    {"description": "order", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/order.CreateOrderRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/order.Order"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httpx.ErrorBody"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httpx.ErrorBody"}}
                }
            },
            "get": {
                "security": [{"Bearer": []}],
                "produces": ["application/json"],
                "tags": ["orders"],
                "summary": "List the customer's orders",
                "parameters": [
                    {"type": "string", "name": "status", "in": "query"},
                    {"type": "integer", "name": "limit", "in": "query"},
                    {"type": "integer", "name": "offset", "in": "query"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/order.Order"}}}}
            }
        },
        "/orders/{id}": {
            "get": {
                "security": [{"Bearer": []}],
                "produces": ["application/json"],
                "tags": ["orders"],
                "summary": "Get one of the customer's orders with its items",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/order.Order"}},
                    "403": {"description": "Forbidden", "schema": {"$ref": "#/definitions/httpx.ErrorBody"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/httpx.ErrorBody"}}
                }
            }
        },
        "/admin/sales": {
            "post": {
                "security": [{"AdminKey": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["admin"],
                "summary": "Record a sale for a customer without an account",
                "parameters": [
                    {"type": "string", "name": "Idempotency-Key", "in": "header"},
                    {"description": "sale", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/order.GuestSaleRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/order.Order"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/httpx.ErrorBody"}}
                }
            }
        },
        "/admin/orders": {
            "get": {
                "security": [{"AdminKey": []}],
                "produces": ["application/json"],
                "tags": ["admin"],
                "summary": "List all orders",
                "parameters": [
                    {"type": "string", "name": "user_id", "in": "query"},
                    {"type": "string", "name": "status", "in": "query"},
                    {"type": "integer", "name": "limit", "in": "query"},
                    {"type": "integer", "name": "offset", "in": "query"}
                ],
                "responses": {"200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/order.Order"}}}}
            }
        },
        "/admin/orders/{id}": {
            "get": {
                "security": [{"AdminKey": []}],
                "produces": ["application/json"],
                "tags": ["admin"],
                "summary": "Get any order with its items",
                "parameters": [{"type": "string", "name": "id", "in": "path", "required": true}],
                "responses": {"200": {"description": "OK", "schema": {"$ref": "#/definitions/order.Order"}}}
            }
        },
        "/admin/orders/{id}/transitions": {
            "post": {
                "security": [{"AdminKey": []}],
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["admin"],
                "summary": "Move an order to a new status",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true},
                    {"description": "transition", "name": "body", "in": "body", "required": true, "schema": {"$ref": "#/definitions/order.TransitionRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/order.Order"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/httpx.ErrorBody"}}
                }
            }
        }
    },
    "definitions": {
        "httpx.ErrorBody": {
            "type": "object",
            "properties": {
                "error": {"type": "string", "example": "validation_error"},
                "message": {"type": "string"},
                "request_id": {"type": "string"}
            }
        },
        "order.CreateOrderItem": {
            "type": "object",
            "properties": {
                "product_id": {"type": "string"},
                "variant_id": {"type": "string"},
                "quantity": {"type": "integer", "example": 2},
                "price": {"type": "string", "example": "10.00"}
            }
        },
        "order.CreateOrderRequest": {
            "type": "object",
            "properties": {
                "shipping_method": {"type": "string", "enum": ["delivery", "MRW", "Zoom", "pickup"]},
                "shipping_address": {"type": "string"},
                "agency_address": {"type": "string"},
                "payment_method": {"type": "string", "enum": ["pago_movil", "transferencia", "zelle", "efectivo", "binance"]},
                "whatsapp_number": {"type": "string"},
                "order_notes": {"type": "string"},
                "total_amount": {"type": "string"},
                "items": {"type": "array", "items": {"$ref": "#/definitions/order.CreateOrderItem"}}
            }
        },
        "order.GuestSaleRequest": {
            "type": "object",
            "properties": {
                "customer_first_name": {"type": "string"},
                "customer_last_name": {"type": "string"},
                "customer_phone": {"type": "string"},
                "customer_email": {"type": "string"},
                "customer_dni": {"type": "string"},
                "shipping_method": {"type": "string"},
                "shipping_address": {"type": "string"},
                "agency_address": {"type": "string"},
                "payment_method": {"type": "string"},
                "order_notes": {"type": "string"},
                "items": {"type": "array", "items": {"$ref": "#/definitions/order.CreateOrderItem"}}
            }
        },
        "order.TransitionRequest": {
            "type": "object",
            "properties": {
                "status": {"type": "string", "enum": ["confirmed", "delivered", "cancelled"]},
                "expected_status": {"type": "string"}
            }
        },
        "order.Order": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "user_id": {"type": "string"},
                "status": {"type": "string"},
                "total_amount": {"type": "string"},
                "shipping_address": {"type": "string"},
                "shipping_method": {"type": "string"},
                "payment_method": {"type": "string"},
                "created_at": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "Tienda order-service API",
	Description:      "Order lifecycle and inventory for the storefront.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
