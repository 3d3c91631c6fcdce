// Package fr24 implements the flight-data provider against the
// Flightradar24 commercial API (fr24api.flightradar24.com).
//
// Two endpoints are used: live flight positions for the tracker loop and
// flight summaries for the daily digest. Authentication is a bearer token
// with the versioned Accept-Version header. HTTP failures map onto the
// provider error taxonomy; the client itself never retries.
package fr24
