/*
Copyright 2024 Blnk Finance Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	model2 "github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/api/model"
	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/internal/apierror"
	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/internal/protocol"
	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/internal/session"
)

// CreateParcel registers a detection exactly as a sorter frame would.
func (a Api) CreateParcel(c *gin.Context) {
	var newParcel model2.CreateParcel
	if err := c.ShouldBindJSON(&newParcel); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := newParcel.ValidateCreateParcel(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.orchestrator.HandleParcelDetected(c.Request.Context(), newParcel.ToDetection(time.Now()))
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusCreated, resp)
}

// ReceiveDws binds a reading and returns once the assignment was sent to the sorter.
func (a Api) ReceiveDws(c *gin.Context) {
	var reading model2.DwsReading
	if err := c.ShouldBindJSON(&reading); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	if err := reading.ValidateDwsReading(); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"errors": err.Error()})
		return
	}

	resp, err := a.orchestrator.HandleDwsData(c.Request.Context(), reading.ToDwsData())
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetSessions(c *gin.Context) {
	c.JSON(http.StatusOK, a.orchestrator.Registry().SnapshotActive())
}

func (a Api) GetSession(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "id must be a parcel number"})
		return
	}

	resp, ok := a.orchestrator.Registry().Get(id)
	if !ok {
		respondError(c, session.ErrSessionNotFound)
		return
	}

	c.JSON(http.StatusOK, resp)
}

func (a Api) GetLinks(c *gin.Context) {
	resp := make([]model2.LinkStatus, 0, len(a.endpoints))
	for _, ep := range a.endpoints {
		resp = append(resp, model2.LinkStatus{
			Endpoint: ep.Name(),
			Role:     ep.Role().Kind(),
			State:    string(ep.State()),
			Links:    ep.Links(),
		})
	}
	c.JSON(http.StatusOK, resp)
}

func respondError(c *gin.Context, err error) {
	apiErr := toAPIError(err)
	c.JSON(apierror.MapErrorToHTTPStatus(apiErr), gin.H{"error": apiErr})
}

// toAPIError classifies orchestration errors for the HTTP caller.
func toAPIError(err error) apierror.APIError {
	switch {
	case errors.Is(err, session.ErrDuplicateParcel), errors.Is(err, session.ErrAlreadyBound),
		errors.Is(err, session.ErrStateConflict):
		return apierror.NewAPIError(apierror.ErrConflict, err.Error(), nil)
	case errors.Is(err, session.ErrNoMatchingSession), errors.Is(err, session.ErrSessionNotFound):
		return apierror.NewAPIError(apierror.ErrNotFound, err.Error(), nil)
	case errors.Is(err, session.ErrTooEarly):
		return apierror.NewAPIError(apierror.ErrTooEarly, err.Error(), nil)
	case errors.Is(err, protocol.ErrNoLinks), errors.Is(err, protocol.ErrEndpointClosed),
		errors.Is(err, protocol.ErrConnectionLost):
		return apierror.NewAPIError(apierror.ErrUnavailable, err.Error(), nil)
	case errors.Is(err, protocol.ErrProtocolDecode):
		return apierror.NewAPIError(apierror.ErrInvalidInput, err.Error(), nil)
	}
	return apierror.NewAPIError(apierror.ErrInternalServer, "internal error", err.Error())
}
