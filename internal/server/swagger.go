package server

import "github.com/swaggo/swag"

// The document below is what `swag init` would emit for this package; it is
// kept by hand because the handlers are few.

// @title perfsandbox API
// @version 0.1
// @description Run performance-audit tools against a URL and collect one combined report.
// @BasePath /

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "description": "{{escape .Description}}",
        "title": "{{.Title}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/tools": {
            "get": {
                "produces": ["application/json"],
                "summary": "List the tool catalog",
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/server.ToolResponse"}}}
                }
            }
        },
        "/runs": {
            "get": {
                "produces": ["application/json"],
                "summary": "List retained runs",
                "responses": {"200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/app.Snapshot"}}}}
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "summary": "Start a run",
                "parameters": [
                    {"in": "body", "name": "body", "required": true, "schema": {"$ref": "#/definitions/server.StartRunRequest"}}
                ],
                "responses": {
                    "202": {"description": "Accepted", "schema": {"$ref": "#/definitions/app.Snapshot"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/server.ErrorResponse"}}
                }
            }
        },
        "/runs/{id}": {
            "get": {
                "produces": ["application/json"],
                "summary": "Get one run",
                "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/app.Snapshot"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/server.ErrorResponse"}}
                }
            }
        },
        "/runs/{id}/artifacts": {
            "get": {
                "produces": ["application/json"],
                "summary": "List the artifacts of a run",
                "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/server.ErrorResponse"}}
                }
            }
        },
        "/ws/run": {
            "get": {
                "summary": "Start a run and stream its progress events over a websocket",
                "parameters": [
                    {"in": "query", "name": "url", "required": true, "type": "string"},
                    {"in": "query", "name": "tools", "required": true, "type": "string", "description": "comma separated tool codes"},
                    {"in": "query", "name": "headless", "type": "boolean"}
                ],
                "responses": {
                    "101": {"description": "Switching Protocols"},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/server.ErrorResponse"}}
                }
            }
        },
        "/ws/runs/{id}": {
            "get": {
                "summary": "Stream the remaining progress events of a run",
                "parameters": [{"in": "path", "name": "id", "required": true, "type": "string"}],
                "responses": {
                    "101": {"description": "Switching Protocols"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/server.ErrorResponse"}}
                }
            }
        },
        "/artifacts/{id}/{name}": {
            "get": {
                "summary": "Download an artifact",
                "parameters": [
                    {"in": "path", "name": "id", "required": true, "type": "string"},
                    {"in": "path", "name": "name", "required": true, "type": "string"}
                ],
                "responses": {"200": {"description": "OK"}, "404": {"description": "Not Found"}}
            }
        },
        "/s/{alias}": {
            "get": {
                "summary": "Follow a shared report link",
                "parameters": [{"in": "path", "name": "alias", "required": true, "type": "string"}],
                "responses": {"302": {"description": "Found"}, "404": {"description": "Not Found"}}
            }
        }
    },
    "definitions": {
        "server.StartRunRequest": {
            "type": "object",
            "properties": {
                "url": {"type": "string", "example": "https://example.com"},
                "tools": {"type": "array", "items": {"type": "string"}, "example": ["LH", "PSI"]},
                "headless": {"type": "boolean"}
            }
        },
        "server.ToolResponse": {
            "type": "object",
            "properties": {
                "code": {"type": "string"},
                "name": {"type": "string"},
                "description": {"type": "string"},
                "url": {"type": "string"},
                "logo": {"type": "string"},
                "primary": {"type": "boolean"},
                "runnable": {"type": "boolean"}
            }
        },
        "server.ErrorResponse": {
            "type": "object",
            "properties": {"error": {"type": "string", "example": "not found"}}
        },
        "tools.Outcome": {
            "type": "object",
            "properties": {
                "toolCode": {"type": "string"},
                "status": {"type": "string", "enum": ["succeeded", "failed"]},
                "resultsUrl": {"type": "string"},
                "summary": {"type": "string"},
                "error": {"type": "string"},
                "duration": {"type": "integer"}
            }
        },
        "app.Snapshot": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "status": {"type": "string", "enum": ["dispatched", "aggregating", "completed", "failed"]},
                "target": {"type": "string"},
                "tools": {"type": "array", "items": {"type": "string"}},
                "headless": {"type": "boolean"},
                "startedAt": {"type": "string", "format": "date-time"},
                "endedAt": {"type": "string", "format": "date-time"},
                "outcomes": {"type": "array", "items": {"$ref": "#/definitions/tools.Outcome"}},
                "viewUrl": {"type": "string"},
                "pdfUrl": {"type": "string"},
                "publicUrl": {"type": "string"},
                "shortUrl": {"type": "string"},
                "error": {"type": "string"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "0.1",
	Host:             "",
	BasePath:         "/",
	Schemes:          []string{},
	Title:            "perfsandbox API",
	Description:      "Run performance-audit tools against a URL and collect one combined report.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
