// Package docs holds the OpenAPI document served at /swagger. Keep it in
// step with the godoc annotations on internal/management handlers.
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
        "/automations": {
            "get": {
                "description": "List automation rules, most recently updated first",
                "produces": ["application/json"],
                "tags": ["automations"],
                "summary": "List automation rules",
                "parameters": [
                    {"type": "string", "description": "Filter by coach", "name": "coachId", "in": "query"},
                    {"type": "string", "description": "Filter by trigger event", "name": "triggerEvent", "in": "query"},
                    {"type": "boolean", "description": "Filter by active flag", "name": "isActive", "in": "query"},
                    {"type": "integer", "description": "Page size", "name": "limit", "in": "query"},
                    {"type": "integer", "description": "Page offset", "name": "offset", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/automation.Rule"}}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}}
                }
            },
            "post": {
                "description": "Create a rule that dispatches actions when its trigger event arrives",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["automations"],
                "summary": "Create an automation rule",
                "parameters": [
                    {"type": "string", "description": "Acting user", "name": "X-User-ID", "in": "header"},
                    {"description": "Automation rule", "name": "rule", "in": "body", "required": true, "schema": {"$ref": "#/definitions/management.CreateRuleRequest"}}
                ],
                "responses": {
                    "201": {"description": "Created", "schema": {"$ref": "#/definitions/automation.Rule"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}}
                }
            }
        },
        "/automations/catalog": {
            "get": {
                "produces": ["application/json"],
                "tags": ["automations"],
                "summary": "List trigger events, action types and condition operators",
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/management.Catalog"}}
                }
            }
        },
        "/automations/{id}": {
            "get": {
                "produces": ["application/json"],
                "tags": ["automations"],
                "summary": "Get an automation rule",
                "parameters": [
                    {"type": "string", "description": "Rule ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/automation.Rule"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}}
                }
            },
            "put": {
                "description": "Replace the fields present in the body",
                "consumes": ["application/json"],
                "produces": ["application/json"],
                "tags": ["automations"],
                "summary": "Update an automation rule",
                "parameters": [
                    {"type": "string", "description": "Acting user", "name": "X-User-ID", "in": "header"},
                    {"type": "string", "description": "Rule ID", "name": "id", "in": "path", "required": true},
                    {"description": "Fields to change", "name": "rule", "in": "body", "required": true, "schema": {"$ref": "#/definitions/management.UpdateRuleRequest"}}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/automation.Rule"}},
                    "400": {"description": "Bad Request", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "409": {"description": "Conflict", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}}
                }
            },
            "delete": {
                "tags": ["automations"],
                "summary": "Delete an automation rule",
                "parameters": [
                    {"type": "string", "description": "Acting user", "name": "X-User-ID", "in": "header"},
                    {"type": "string", "description": "Rule ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "204": {"description": "No Content"},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}}
                }
            }
        },
        "/automations/{id}/toggle": {
            "patch": {
                "produces": ["application/json"],
                "tags": ["automations"],
                "summary": "Flip a rule between active and inactive",
                "parameters": [
                    {"type": "string", "description": "Acting user", "name": "X-User-ID", "in": "header"},
                    {"type": "string", "description": "Rule ID", "name": "id", "in": "path", "required": true}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"$ref": "#/definitions/automation.Rule"}},
                    "404": {"description": "Not Found", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}}
                }
            }
        },
        "/automations/{id}/audit": {
            "get": {
                "produces": ["application/json"],
                "tags": ["automations"],
                "summary": "Get the change history of a rule",
                "parameters": [
                    {"type": "string", "description": "Rule ID", "name": "id", "in": "path", "required": true},
                    {"type": "integer", "description": "Max entries", "name": "limit", "in": "query"}
                ],
                "responses": {
                    "200": {"description": "OK", "schema": {"type": "array", "items": {"$ref": "#/definitions/management.AuditLog"}}},
                    "500": {"description": "Internal Server Error", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}},
                    "503": {"description": "Service Unavailable", "schema": {"$ref": "#/definitions/errors.ErrorResponse"}}
                }
            }
        }
    },
    "definitions": {
        "automation.Action": {
            "type": "object",
            "properties": {
                "type": {"type": "string"},
                "config": {"type": "object", "additionalProperties": true},
                "delay": {"type": "number"},
                "order": {"type": "number"}
            }
        },
        "automation.Condition": {
            "type": "object",
            "properties": {
                "field": {"type": "string"},
                "operator": {"type": "string"},
                "value": {}
            }
        },
        "automation.Rule": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "name": {"type": "string"},
                "coachId": {"type": "string"},
                "triggerEvent": {"type": "string"},
                "triggerConditions": {"type": "array", "items": {"$ref": "#/definitions/automation.Condition"}},
                "triggerConditionLogic": {"type": "string"},
                "actions": {"type": "array", "items": {"$ref": "#/definitions/automation.Action"}},
                "isActive": {"type": "boolean"},
                "createdBy": {"type": "string"},
                "createdAt": {"type": "string"},
                "updatedAt": {"type": "string"}
            }
        },
        "errors.ErrorResponse": {
            "type": "object",
            "properties": {
                "error": {"type": "string"},
                "error_code": {"type": "string"},
                "details": {"type": "object", "additionalProperties": true}
            }
        },
        "management.ActionRequest": {
            "type": "object",
            "required": ["type"],
            "properties": {
                "type": {"type": "string"},
                "config": {"type": "object", "additionalProperties": true},
                "delay": {"type": "number", "minimum": 0},
                "order": {"type": "number", "minimum": 0}
            }
        },
        "management.AuditLog": {
            "type": "object",
            "properties": {
                "id": {"type": "string"},
                "rule_id": {"type": "string"},
                "action": {"type": "string"},
                "old_value": {"type": "object", "additionalProperties": true},
                "new_value": {"type": "object", "additionalProperties": true},
                "changed_by": {"type": "string"},
                "ip_address": {"type": "string"},
                "timestamp": {"type": "string"}
            }
        },
        "management.Catalog": {
            "type": "object",
            "properties": {
                "triggerEvents": {"type": "array", "items": {"type": "string"}},
                "actionTypes": {"type": "array", "items": {"type": "string"}},
                "operators": {"type": "array", "items": {"type": "string"}},
                "conditionExamples": {
                    "type": "object",
                    "additionalProperties": {"type": "array", "items": {"$ref": "#/definitions/automation.Condition"}}
                }
            }
        },
        "management.ConditionRequest": {
            "type": "object",
            "required": ["field", "operator"],
            "properties": {
                "field": {"type": "string"},
                "operator": {"type": "string"},
                "value": {}
            }
        },
        "management.CreateRuleRequest": {
            "type": "object",
            "required": ["actions", "coachId", "name", "triggerEvent"],
            "properties": {
                "name": {"type": "string", "maxLength": 200},
                "coachId": {"type": "string"},
                "triggerEvent": {"type": "string"},
                "triggerConditions": {"type": "array", "items": {"$ref": "#/definitions/management.ConditionRequest"}},
                "triggerConditionLogic": {"type": "string", "enum": ["AND", "OR"]},
                "actions": {"type": "array", "minItems": 1, "items": {"$ref": "#/definitions/management.ActionRequest"}},
                "isActive": {"type": "boolean"},
                "createdBy": {"type": "string"}
            }
        },
        "management.UpdateRuleRequest": {
            "type": "object",
            "properties": {
                "name": {"type": "string", "maxLength": 200},
                "triggerEvent": {"type": "string"},
                "triggerConditions": {"type": "array", "items": {"$ref": "#/definitions/management.ConditionRequest"}},
                "triggerConditionLogic": {"type": "string", "enum": ["AND", "OR"]},
                "actions": {"type": "array", "items": {"$ref": "#/definitions/management.ActionRequest"}},
                "isActive": {"type": "boolean"}
            }
        }
    }
}`

// SwaggerInfo holds exported Swagger Info so clients can modify it
var SwaggerInfo = &swag.Spec{
	Version:          "1.0",
	Host:             "localhost:8084",
	BasePath:         "/api/v1",
	Schemes:          []string{"http", "https"},
	Title:            "Coachflow Automation API",
	Description:      "REST API for managing automation rules: trigger events, conditions and the actions they dispatch",
	InfoInstanceName: "swagger",
	SwaggerTemplate:  docTemplate,
	LeftDelim:        "{{",
	RightDelim:       "}}",
}

func init() {
	swag.Register(SwaggerInfo.InstanceName(), SwaggerInfo)
}
