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
	"net/http"

	"github.com/gin-gonic/gin"

	sorting "github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004"
	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/api/middleware"
	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/config"
	"github.com/Hisoka6602/ZakYip.Sorting.RuleEngine.Core-sub004/internal/protocol"
)

// LinkSource reports the live connections of a protocol endpoint. *protocol.Endpoint
// satisfies it.
type LinkSource interface {
	Name() string
	State() protocol.LinkState
	Role() protocol.Role
	Links() []protocol.LinkInfo
}

type Api struct {
	orchestrator *sorting.Orchestrator
	endpoints    []LinkSource
	metrics      http.Handler
	router       *gin.Engine
}

func (a Api) Router() *gin.Engine {
	router := a.router
	router.POST("/parcels", a.CreateParcel)
	router.POST("/dws", a.ReceiveDws)
	router.GET("/sessions", a.GetSessions)
	router.GET("/sessions/:id", a.GetSession)
	router.GET("/links", a.GetLinks)
	if a.metrics != nil {
		router.GET("/metrics", gin.WrapH(a.metrics))
	}
	return a.router
}

// NewAPI builds the HTTP ingress over o. metrics may be nil.
func NewAPI(o *sorting.Orchestrator, metrics http.Handler, endpoints ...LinkSource) (*Api, error) {
	gin.SetMode(gin.ReleaseMode)
	conf, err := config.Fetch()
	if err != nil {
		return nil, err
	}
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RateLimitMiddleware(conf))
	if conf.Server.SecretKey != "" {
		r.Use(middleware.SecretKeyAuthMiddleware())
	}

	r.GET("/", func(c *gin.Context) {
		c.JSON(http.StatusOK, "server running...")
	})

	return &Api{orchestrator: o, endpoints: endpoints, metrics: metrics, router: r}, nil
}
