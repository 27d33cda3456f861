package chain

// BountyEscrowABI contains the simplified ABI for the BountyEscrow contract
const BountyEscrowABI = `[
	{
		"inputs": [
			{"internalType": "string", "name": "evaluationCid", "type": "string"},
			{"internalType": "uint64", "name": "classId", "type": "uint64"},
			{"internalType": "uint8", "name": "threshold", "type": "uint8"},
			{"internalType": "uint64", "name": "submissionDeadline", "type": "uint64"}
		],
		"name": "createBounty",
		"outputs": [
			{"internalType": "uint256", "name": "bountyId", "type": "uint256"}
		],
		"stateMutability": "payable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "uint256", "name": "bountyId", "type": "uint256"},
			{"internalType": "string", "name": "evaluationCid", "type": "string"},
			{"internalType": "string", "name": "hunterCid", "type": "string"},
			{"internalType": "string", "name": "addendum", "type": "string"},
			{"internalType": "uint256", "name": "alpha", "type": "uint256"},
			{"internalType": "uint256", "name": "maxOracleFee", "type": "uint256"},
			{"internalType": "uint256", "name": "estimatedBaseCost", "type": "uint256"},
			{"internalType": "uint256", "name": "maxFeeBasedScaling", "type": "uint256"}
		],
		"name": "prepareSubmission",
		"outputs": [
			{"internalType": "uint256", "name": "submissionId", "type": "uint256"},
			{"internalType": "address", "name": "evalWallet", "type": "address"},
			{"internalType": "uint256", "name": "linkMaxBudget", "type": "uint256"}
		],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "uint256", "name": "bountyId", "type": "uint256"},
			{"internalType": "uint256", "name": "submissionId", "type": "uint256"}
		],
		"name": "startPreparedSubmission",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "uint256", "name": "bountyId", "type": "uint256"},
			{"internalType": "uint256", "name": "submissionId", "type": "uint256"}
		],
		"name": "finalizeSubmission",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "uint256", "name": "bountyId", "type": "uint256"},
			{"internalType": "uint256", "name": "submissionId", "type": "uint256"}
		],
		"name": "failTimedOutSubmission",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "uint256", "name": "bountyId", "type": "uint256"}
		],
		"name": "closeExpiredBounty",
		"outputs": [],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [],
		"name": "bountyCount",
		"outputs": [
			{"internalType": "uint256", "name": "", "type": "uint256"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "uint256", "name": "bountyId", "type": "uint256"}
		],
		"name": "getBountyStatus",
		"outputs": [
			{"internalType": "uint8", "name": "", "type": "uint8"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "uint256", "name": "bountyId", "type": "uint256"}
		],
		"name": "getBounty",
		"outputs": [
			{"internalType": "address", "name": "creator", "type": "address"},
			{"internalType": "string", "name": "evaluationCid", "type": "string"},
			{"internalType": "uint64", "name": "classId", "type": "uint64"},
			{"internalType": "uint8", "name": "threshold", "type": "uint8"},
			{"internalType": "uint256", "name": "payout", "type": "uint256"},
			{"internalType": "uint64", "name": "createdAt", "type": "uint64"},
			{"internalType": "uint64", "name": "submissionCloseTime", "type": "uint64"},
			{"internalType": "uint8", "name": "status", "type": "uint8"},
			{"internalType": "address", "name": "winner", "type": "address"},
			{"internalType": "uint256", "name": "submissionCount", "type": "uint256"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "uint256", "name": "bountyId", "type": "uint256"},
			{"internalType": "uint256", "name": "submissionId", "type": "uint256"}
		],
		"name": "getSubmission",
		"outputs": [
			{"internalType": "address", "name": "hunter", "type": "address"},
			{"internalType": "string", "name": "hunterCid", "type": "string"},
			{"internalType": "address", "name": "evalWallet", "type": "address"},
			{"internalType": "uint256", "name": "linkMaxBudget", "type": "uint256"},
			{"internalType": "bytes32", "name": "verdiktaAggId", "type": "bytes32"},
			{"internalType": "uint8", "name": "status", "type": "uint8"},
			{"internalType": "uint64", "name": "submittedAt", "type": "uint64"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "uint256", "name": "bountyId", "type": "uint256"},
			{"indexed": true, "internalType": "address", "name": "creator", "type": "address"},
			{"indexed": false, "internalType": "string", "name": "evaluationCid", "type": "string"},
			{"indexed": false, "internalType": "uint256", "name": "payout", "type": "uint256"},
			{"indexed": false, "internalType": "uint64", "name": "submissionDeadline", "type": "uint64"}
		],
		"name": "BountyCreated",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "uint256", "name": "bountyId", "type": "uint256"},
			{"indexed": true, "internalType": "uint256", "name": "submissionId", "type": "uint256"},
			{"indexed": true, "internalType": "address", "name": "hunter", "type": "address"},
			{"indexed": false, "internalType": "address", "name": "evalWallet", "type": "address"},
			{"indexed": false, "internalType": "uint256", "name": "linkMaxBudget", "type": "uint256"}
		],
		"name": "SubmissionPrepared",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "uint256", "name": "bountyId", "type": "uint256"},
			{"indexed": true, "internalType": "uint256", "name": "submissionId", "type": "uint256"},
			{"indexed": false, "internalType": "bytes32", "name": "verdiktaAggId", "type": "bytes32"}
		],
		"name": "WorkSubmitted",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "uint256", "name": "bountyId", "type": "uint256"},
			{"indexed": true, "internalType": "address", "name": "winner", "type": "address"},
			{"indexed": false, "internalType": "uint256", "name": "amount", "type": "uint256"}
		],
		"name": "PayoutSent",
		"type": "event"
	},
	{
		"anonymous": false,
		"inputs": [
			{"indexed": true, "internalType": "uint256", "name": "bountyId", "type": "uint256"}
		],
		"name": "BountyClosed",
		"type": "event"
	}
]`

// VerdiktaAggregatorABI contains the read surface of the oracle aggregator
const VerdiktaAggregatorABI = `[
	{
		"inputs": [
			{"internalType": "bytes32", "name": "aggId", "type": "bytes32"}
		],
		"name": "getEvaluation",
		"outputs": [
			{"internalType": "bool", "name": "ready", "type": "bool"},
			{"internalType": "uint256", "name": "acceptance", "type": "uint256"},
			{"internalType": "uint256", "name": "rejection", "type": "uint256"},
			{"internalType": "string[]", "name": "justificationCids", "type": "string[]"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`

// LinkTokenABI contains the ERC-677/20 surface the client needs
const LinkTokenABI = `[
	{
		"inputs": [
			{"internalType": "address", "name": "spender", "type": "address"},
			{"internalType": "uint256", "name": "amount", "type": "uint256"}
		],
		"name": "approve",
		"outputs": [
			{"internalType": "bool", "name": "", "type": "bool"}
		],
		"stateMutability": "nonpayable",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "owner", "type": "address"},
			{"internalType": "address", "name": "spender", "type": "address"}
		],
		"name": "allowance",
		"outputs": [
			{"internalType": "uint256", "name": "", "type": "uint256"}
		],
		"stateMutability": "view",
		"type": "function"
	},
	{
		"inputs": [
			{"internalType": "address", "name": "account", "type": "address"}
		],
		"name": "balanceOf",
		"outputs": [
			{"internalType": "uint256", "name": "", "type": "uint256"}
		],
		"stateMutability": "view",
		"type": "function"
	}
]`
