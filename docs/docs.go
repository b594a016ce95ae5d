// Package docs holds the generated OpenAPI definition. Regenerate with
// `swag init -g cmd/pipeline-api/main.go` after changing handler annotations.
package docs

import "github.com/swaggo/swag"

const docTemplate = `{
    "schemes": {{ marshal .Schemes }},
    "swagger": "2.0",
    "info": {
        "title": "{{.Title}}",
        "description": "{{escape .Description}}",
        "version": "{{.Version}}"
    },
    "host": "{{.Host}}",
    "basePath": "{{.BasePath}}",
    "paths": {
        "/runs": {
            "get": {
                "produces": ["application/json"],
                "tags": ["runs"],
                "summary": "List runs",
                "parameters": [
                    {
                        "type": "string",
                        "description": "Logical date filter (YYYY-MM-DD)",
                        "name": "date",
                        "in": "query"
                    }
                ],
                "responses": {
                    "200": {"description": "OK"}
                }
            },
            "post": {
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["runs"],
                "summary": "Trigger a pipeline run",
                "responses": {
                    "200": {"description": "Already satisfied"},
                    "202": {"description": "Run accepted"},
                    "400": {"description": "Invalid request payload"},
                    "409": {"description": "A run for this date is already in progress"}
                }
            }
        },
        "/runs/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["runs"],
                "summary": "Get run",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Run not found"}
                }
            }
        },
        "/runs/{id}/events": {
            "get": {
                "produces": ["application/json"],
                "tags": ["runs"],
                "summary": "Get run events",
                "parameters": [
                    {"type": "string", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/dates/{date}/quarantine": {
            "get": {
                "produces": ["application/json"],
                "tags": ["quarantine"],
                "summary": "Get quarantined records",
                "parameters": [
                    {"type": "string", "name": "date", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK"}
                }
            }
        },
        "/dates/{date}/kpis": {
            "get": {
                "produces": ["application/json"],
                "tags": ["kpis"],
                "summary": "Get published KPIs",
                "parameters": [
                    {"type": "string", "name": "date", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK"},
                    "404": {"description": "Nothing published for this date"}
                }
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it.
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "",
	BasePath:         "/api/v1",
	Schemes:          []string{},
	Title:            "Learner Analytics Pipeline API",
	Description:      "Control and read-side API for the learner analytics pipeline.",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
