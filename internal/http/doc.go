// Package http exposes the task, expense, budget and feature APIs over JSON.
//
// The router exposes the following endpoints. Every route except the health
// check and login requires an `Authorization: Bearer <token>` header.
//   - POST /auth/login: exchanges {"email","password"} for a signed token.
//   - GET /me/features, GET /me/features/{name}: features as evaluated for the
//     caller.
//   - /features, /features/{id}: administrator feature definition CRUD.
//     PUT/DELETE /features/{id}/users/{userID} and /features/{id}/roles/{role}
//     set or reset overrides with a {"enabled": bool} body.
//   - /tasks, /tasks/{id}: the caller's tasks. DELETE /tasks/{id}/recurrence
//     cancels a schedule and POST /tasks/{id}/recurrence materializes the
//     occurrences due now.
//   - /expenses, /expenses/{id}, /expenses/{id}/recurrence: same shape as tasks.
//   - /budgets, /budgets/{id}, GET /budgets/summary?year=&month=: monthly
//     category budgets, gated by the "budgets" feature when configured.
//   - /users, /users/{id}, PUT /users/{id}/roles, /roles, /roles/{name}:
//     administrator identity management.
//   - POST /recurrence/sweep: processes every due schedule immediately.
//
// Request/response DTOs live alongside their respective handlers so tests and
// documentation share the same ground truth.
package http
