package main

// openAPIDocument describes the HTTP API. Kept by hand alongside the
// route table in server/router/api/v1.
const openAPIDocument = `openapi: "3.0.3"
info:
  title: Valet API
  description: Self-hosted personal AI assistant.
  version: "1.0"
servers:
  - url: http://localhost:28484
components:
  securitySchemes:
    bearer:
      type: http
      scheme: bearer
  schemas:
    Error:
      type: object
      properties:
        code:
          type: string
          enum: [VALIDATION, UNAUTHORIZED, FORBIDDEN, NOT_FOUND, CONFLICT,
                 RATE_LIMITED, UPSTREAM_UNAVAILABLE, UPSTREAM_ERROR,
                 DEGRADED, INTERNAL, CANCELLED]
        message:
          type: string
    ChatRequest:
      type: object
      required: [message]
      properties:
        conversation_id:
          type: string
        message:
          type: string
    ChatResponse:
      type: object
      properties:
        conversation_id:
          type: string
        reply:
          type: string
        model:
          type: string
        degraded:
          type: boolean
        usage:
          type: object
    CommandRequest:
      type: object
      required: [text]
      properties:
        text:
          type: string
        conversation_id:
          type: string
    CommandResponse:
      type: object
      properties:
        kind:
          type: string
        confidence:
          type: number
        queued:
          type: boolean
        approval_id:
          type: string
        reply:
          type: string
        conversation_id:
          type: string
    Approval:
      type: object
      properties:
        id:
          type: string
        state:
          type: string
          enum: [PENDING, APPROVED, DENIED, CANCELLED, EXPIRED]
        intent:
          type: object
        result:
          type: string
        created_at:
          type: string
          format: date-time
        expires_at:
          type: string
          format: date-time
    Reminder:
      type: object
      properties:
        id:
          type: string
        text:
          type: string
        fire_at:
          type: string
          format: date-time
        state:
          type: string
          enum: [PENDING, SENT, ACKNOWLEDGED, EXPIRED, DELETED]
        source:
          type: string
          enum: [USER, CALENDAR]
        snooze_count:
          type: integer
security:
  - bearer: []
paths:
  /health:
    get:
      summary: Liveness probe.
      security: []
      responses:
        "200": {description: Alive}
  /ready:
    get:
      summary: Readiness probe (store and inference path usable).
      security: []
      responses:
        "200": {description: Ready}
        "503": {description: Store or inference unavailable}
  /ready/all:
    get:
      summary: Per-component readiness map.
      security: []
      responses:
        "200": {description: Component states}
  /metrics:
    get:
      summary: Counters snapshot as JSON.
      security: []
      responses:
        "200": {description: Metrics}
  /metrics/prometheus:
    get:
      summary: Prometheus exposition format.
      security: []
      responses:
        "200": {description: Metrics}
  /v1/auth/session:
    post:
      summary: Exchange the credential for a short-lived session token.
      responses:
        "200":
          description: Signed token and its expiry. Sessions do not survive a server restart.
  /v1/chat:
    post:
      summary: One synchronous chat turn.
      requestBody:
        content:
          application/json:
            schema: {$ref: "#/components/schemas/ChatRequest"}
      responses:
        "200":
          description: Assistant reply (degraded=true when served from fallback).
          content:
            application/json:
              schema: {$ref: "#/components/schemas/ChatResponse"}
        "429": {description: Rate limited, content: {application/json: {schema: {$ref: "#/components/schemas/Error"}}}}
        "503": {description: Inference backend unavailable}
  /v1/chat/stream:
    post:
      summary: Streaming chat turn over server-sent events.
      requestBody:
        content:
          application/json:
            schema: {$ref: "#/components/schemas/ChatRequest"}
      responses:
        "200":
          description: SSE stream of message events, terminated by a done event.
          content:
            text/event-stream: {}
  /v1/conversations:
    get:
      summary: List the caller's conversations.
      responses:
        "200": {description: Conversations}
  /v1/conversations/{id}/messages:
    get:
      summary: Message history of one conversation.
      parameters:
        - {name: id, in: path, required: true, schema: {type: string}}
      responses:
        "200": {description: Messages}
        "404": {description: Unknown or foreign conversation}
  /v1/conversations/{id}:
    delete:
      summary: Delete a conversation and its messages.
      parameters:
        - {name: id, in: path, required: true, schema: {type: string}}
      responses:
        "204": {description: Deleted}
        "404": {description: Unknown or foreign conversation}
  /v1/commands:
    post:
      summary: Parse a command phrase and dispatch it.
      requestBody:
        content:
          application/json:
            schema: {$ref: "#/components/schemas/CommandRequest"}
      responses:
        "200":
          description: Executed conversationally.
          content:
            application/json:
              schema: {$ref: "#/components/schemas/CommandResponse"}
        "202":
          description: Side-effecting command queued for approval.
          content:
            application/json:
              schema: {$ref: "#/components/schemas/CommandResponse"}
  /v1/commands/parse:
    post:
      summary: Parse a command phrase without executing it.
      requestBody:
        content:
          application/json:
            schema: {$ref: "#/components/schemas/CommandRequest"}
      responses:
        "200":
          description: Classified intent and whether it would require approval.
  /v1/approvals:
    get:
      summary: List the caller's approval requests.
      parameters:
        - {name: state, in: query, schema: {type: string}}
      responses:
        "200":
          description: Approvals
          content:
            application/json:
              schema:
                type: array
                items: {$ref: "#/components/schemas/Approval"}
  /v1/approvals/{id}:
    get:
      summary: Fetch one approval request.
      parameters:
        - {name: id, in: path, required: true, schema: {type: string}}
      responses:
        "200": {description: Approval, content: {application/json: {schema: {$ref: "#/components/schemas/Approval"}}}}
        "404": {description: Unknown or foreign approval}
  /v1/approvals/{id}/approve:
    post:
      summary: Approve and execute a pending request.
      parameters:
        - {name: id, in: path, required: true, schema: {type: string}}
      responses:
        "200": {description: Executed, result recorded}
        "409": {description: Request is no longer pending}
  /v1/approvals/{id}/deny:
    post:
      summary: Deny a pending request.
      parameters:
        - {name: id, in: path, required: true, schema: {type: string}}
      responses:
        "200": {description: Denied}
        "409": {description: Request is no longer pending}
  /v1/approvals/{id}/cancel:
    post:
      summary: Cancel a pending request.
      parameters:
        - {name: id, in: path, required: true, schema: {type: string}}
      responses:
        "200": {description: Cancelled}
        "409": {description: Request is no longer pending}
  /v1/reminders:
    get:
      summary: List the caller's reminders.
      parameters:
        - {name: state, in: query, schema: {type: string}}
      responses:
        "200":
          description: Reminders
          content:
            application/json:
              schema:
                type: array
                items: {$ref: "#/components/schemas/Reminder"}
  /v1/system/status:
    get:
      summary: Version, mode, store driver, and breaker state.
      responses:
        "200": {description: Status}
  /webhook/telegram:
    post:
      summary: Telegram webhook (secret-token header verified).
      security: []
      responses:
        "200": {description: Accepted}
        "401": {description: Secret token mismatch}
`
