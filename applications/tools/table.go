package tools

// registerTools builds the dispatch table. Timeouts follow the configured
// tiers: the update path gets the long deadline, admin tools the short one.
func (s *Service) registerTools() {
	s.specs = make(map[string]*Spec)
	def := s.cfg.Timeouts.Default
	long := s.cfg.Timeouts.ProcessUpdate
	admin := s.cfg.Timeouts.Admin

	for _, spec := range []*Spec{
		// Registration and identity
		{Name: "get_agent_api_key", Description: "Register an agent or rotate its API key", Timeout: def, Handler: s.handleGetAgentAPIKey},

		// Update path
		{Name: "process_agent_update", Description: "Submit an update for integration and classification", Timeout: long, RequiresAuth: true, RateClass: RateClassUpdates, Handler: s.handleProcessUpdate},
		{Name: "simulate_update", Description: "Dry-run an update without persisting", Timeout: def, Handler: s.handleSimulateUpdate},
		{Name: "get_governance_metrics", Description: "Current dynamical snapshot for an agent", Timeout: def, Handler: s.handleGetMetrics},

		// Agent lifecycle
		{Name: "list_agents", Description: "List tracked agents", Timeout: def, Handler: s.handleListAgents},
		{Name: "get_agent_metadata", Description: "Fetch one agent's metadata record", Timeout: def, Handler: s.handleGetAgentMetadata},
		{Name: "update_agent_metadata", Description: "Update tags and notes", Timeout: def, RequiresAuth: true, Handler: s.handleUpdateAgentMetadata},
		{Name: "archive_agent", Description: "Archive an agent", Timeout: def, RequiresAuth: true, Handler: s.handleArchiveAgent},
		{Name: "delete_agent", Description: "Delete an agent (pioneer protected)", Timeout: def, RequiresAuth: true, Handler: s.handleDeleteAgent},
		{Name: "mark_response_complete", Description: "Mark the agent idle pending input", Timeout: def, RequiresAuth: true, Handler: s.handleMarkResponseComplete},
		{Name: "direct_resume_if_safe", Description: "Tier-1 resume for a paused agent with safe metrics", Timeout: def, RequiresAuth: true, Handler: s.handleDirectResumeIfSafe},

		// Dialectic protocol
		{Name: "request_dialectic_review", Description: "Open a dialectic session", Timeout: def, RequiresAuth: true, Handler: s.handleRequestDialecticReview},
		{Name: "submit_thesis", Description: "Submit the paused agent's thesis", Timeout: def, RequiresAuth: true, Handler: s.handleSubmitThesis},
		{Name: "submit_antithesis", Description: "Submit the reviewer's antithesis", Timeout: def, RequiresAuth: true, Handler: s.handleSubmitAntithesis},
		{Name: "submit_synthesis", Description: "Submit a synthesis round", Timeout: def, RequiresAuth: true, Handler: s.handleSubmitSynthesis},
		{Name: "get_dialectic_session", Description: "Fetch a dialectic session", Timeout: def, Handler: s.handleGetDialecticSession},
		{Name: "self_recovery", Description: "Open a self-recovery session with a canned antithesis", Timeout: def, RequiresAuth: true, Handler: s.handleSelfRecovery},

		// Knowledge graph
		{Name: "store_knowledge_graph", Description: "Store a discovery", Timeout: def, RateClass: RateClassKnowledgeStores, Handler: s.handleStoreKnowledge},
		{Name: "search_knowledge_graph", Description: "Search discoveries with filters", Timeout: def, Handler: s.handleSearchKnowledge},
		{Name: "get_knowledge_graph", Description: "Graph statistics and recent discoveries", Timeout: def, Handler: s.handleGetKnowledgeGraph},
		{Name: "find_similar_discoveries_graph", Description: "Similarity search over discoveries", Timeout: def, Handler: s.handleFindSimilar},
		{Name: "update_discovery_status_graph", Description: "Move a discovery to a new status", Timeout: def, RequiresAuth: true, Handler: s.handleUpdateDiscoveryStatus},
		{Name: "get_discovery_details", Description: "Fetch one discovery with related nodes", Timeout: def, Handler: s.handleGetDiscoveryDetails},

		// Thresholds
		{Name: "get_thresholds", Description: "Read the live threshold set", Timeout: admin, Handler: s.handleGetThresholds},
		{Name: "set_thresholds", Description: "Adjust live thresholds (gated)", Timeout: admin, RequiresAuth: true, Handler: s.handleSetThresholds},

		// Administration
		{Name: "health_check", Description: "Server liveness and component health", Timeout: admin, Handler: s.handleHealthCheck},
		{Name: "get_server_info", Description: "Process and build information", Timeout: admin, Handler: s.handleGetServerInfo},
		{Name: "cleanup_stale_locks", Description: "Reap stale advisory locks now", Timeout: admin, Handler: s.handleCleanupStaleLocks},
		{Name: "reset_monitor", Description: "Reset an agent's dynamical state", Timeout: admin, RequiresAuth: true, Handler: s.handleResetMonitor},
		{Name: "list_tools", Description: "List the tool table", Timeout: admin, Handler: s.handleListTools},
		{Name: "get_tool_usage_stats", Description: "Per-tool call statistics", Timeout: admin, Handler: s.handleToolUsageStats},
		{Name: "get_workspace_health", Description: "Data-root disk and file health", Timeout: admin, Handler: s.handleWorkspaceHealth},
	} {
		s.register(spec)
	}
}
